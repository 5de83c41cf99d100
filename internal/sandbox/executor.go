// Package sandbox runs model-written Go scripts against the capability set.
// Scripts are checked statically by the Validator and then interpreted by a
// fresh yaegi interpreter that can resolve nothing but the capability package.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing/fstest"
	"time"

	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"

	"rlmrepl/internal/capability"
	"rlmrepl/internal/config"
)

// Status is the outcome of one execution.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Result is the structured outcome of Execute.
type Result struct {
	Status          Status        `json:"status"`
	Value           interface{}   `json:"result,omitempty"`
	Error           string        `json:"error,omitempty"`
	ErrorKind       string        `json:"error_kind,omitempty"`
	Violations      []Violation   `json:"violations,omitempty"`
	Output          string        `json:"output,omitempty"`
	OutputTruncated bool          `json:"output_truncated,omitempty"`
	Truncated       bool          `json:"truncated,omitempty"`
	Duration        time.Duration `json:"duration"`
}

// Executor validates and interprets scripts.
type Executor struct {
	registry  *capability.Registry
	validator *Validator
	maxOutput int
	logger    *zap.Logger
}

// NewExecutor builds an executor over reg. The validator is compiled from cfg.
func NewExecutor(reg *capability.Registry, cfg config.REPLConfig, logger *zap.Logger) (*Executor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v, err := NewValidator(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Executor{
		registry:  reg,
		validator: v,
		maxOutput: cfg.MaxOutputBytes,
		logger:    logger,
	}, nil
}

// Validator returns the executor's static checker.
func (e *Executor) Validator() *Validator { return e.validator }

// Execute validates code and runs it under the governor deadline. It never
// panics; every failure is reported in the Result.
func (e *Executor) Execute(ctx context.Context, code string) (res Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Executor panic", zap.Any("panic", r))
			res = failure(KindRuntime, fmt.Sprintf("internal error: %v", r))
		}
		res.Duration = time.Since(start)
	}()

	report := e.validator.Validate(code)
	if !report.OK() {
		res = failure(KindSecurity, report.Err().Error())
		res.Violations = report.Violations
		return res
	}

	gov := e.registry.Governor()
	ctx, cancel := gov.Deadline(ctx)
	defer cancel()

	out := &boundedBuffer{limit: e.maxOutput}
	holder := &binding{}
	i := interp.New(interp.Options{
		Stdout:               out,
		Stderr:               out,
		Env:                  []string{},
		GoPath:               "/nonexistent",
		SourcecodeFilesystem: fstest.MapFS{},
	})

	exports := e.registry.Bind(ctx).Exports()
	exports["Bind"] = reflect.ValueOf(holder.bind)
	if err := i.Use(interp.Exports{capabilityPackage + "/" + capabilityPackage: exports}); err != nil {
		return failure(KindRuntime, fmt.Sprintf("load capabilities: %v", err))
	}

	_, err := i.EvalWithContext(ctx, wrap(code))
	value, bound := holder.take()
	res.Output, res.OutputTruncated = out.result()

	if err != nil {
		kind, msg := classify(ctx, err)
		e.logger.Debug("Script failed", zap.String("kind", kind), zap.String("error", msg))
		failed := failure(kind, msg)
		failed.Output, failed.OutputTruncated = res.Output, res.OutputTruncated
		return failed
	}

	res.Status = StatusSuccess
	if bound {
		res.Value, res.Truncated = gov.Truncate(value)
	}
	return res
}

func failure(kind, msg string) Result {
	return Result{Status: StatusError, ErrorKind: kind, Error: msg}
}

// classify maps an interpreter error onto an execution error kind.
func classify(ctx context.Context, err error) (string, string) {
	if v, ok := panicValue(err); ok {
		var capErr *capability.Error
		if e, isErr := v.(error); isErr && errors.As(e, &capErr) {
			return capErr.Kind, capErr.Error()
		}
		return KindRuntime, fmt.Sprintf("panic: %v", v)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout, "execution timed out"
	}
	if errors.Is(err, context.Canceled) {
		return KindRuntime, "execution cancelled"
	}
	return KindCompile, scriptPositions(err.Error())
}

func panicValue(err error) (interface{}, bool) {
	var p interp.Panic
	if errors.As(err, &p) {
		return p.Value, true
	}
	var pp *interp.Panic
	if errors.As(err, &pp) && pp != nil {
		return pp.Value, true
	}
	return nil, false
}

// binding receives the script's result from the deferred Bind call. The
// interpreter goroutine can outlive a timed-out Eval, so late binds after
// take are dropped.
type binding struct {
	mu     sync.Mutex
	value  interface{}
	bound  bool
	closed bool
}

func (b *binding) bind(v interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.value, b.bound = v, true
}

func (b *binding) take() (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return b.value, b.bound
}

// boundedBuffer keeps the first limit bytes written to it.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	room := b.limit - b.buf.Len()
	if b.limit <= 0 {
		room = len(p)
	}
	if room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

func (b *boundedBuffer) result() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
