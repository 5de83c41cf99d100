package sandbox

import (
	"fmt"
	"strings"

	"rlmrepl/internal/capability"
)

// Execution error kinds reported in Result.ErrorKind.
const (
	KindSecurity   = "security_violation"
	KindCompile    = "compile_error"
	KindRuntime    = "runtime_error"
	KindCapability = capability.KindCapability
	KindTimeout    = capability.KindTimeout
)

// Violation kinds produced outside the policy program.
const (
	ViolationTooLarge    = "code_too_large"
	ViolationParseError  = "parse_error"
	ViolationPolicyLimit = "policy_limit"
)

// Violation is one reason a script was refused.
type Violation struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
}

func (v Violation) String() string {
	if v.Subject == "" {
		return v.Kind
	}
	return fmt.Sprintf("%s: %s", v.Kind, v.Subject)
}

// SecurityError rejects a script before any of it runs.
type SecurityError struct {
	Violations []Violation
}

func (e *SecurityError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return "security violation: " + strings.Join(parts, "; ")
}
