package capability

import (
	"context"
	"errors"
	"fmt"
)

// Error kinds raised from inside a capability.
const (
	KindCapability = "capability_error"
	KindTimeout    = "timeout"
)

// Error is raised (as a panic value) by a capability that cannot complete.
// The sandbox recovers it and reports Kind as the execution error kind.
type Error struct {
	Kind string
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func raise(kind, op string, err error) {
	panic(&Error{Kind: kind, Op: op, Err: err})
}

func raisef(op, format string, args ...interface{}) {
	raise(KindCapability, op, fmt.Errorf(format, args...))
}

// contextKind classifies a context error.
func contextKind(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindCapability
}
