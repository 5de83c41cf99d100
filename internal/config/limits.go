package config

import (
	"fmt"
	"time"
)

// REPLConfig enforces the sandbox resource constraints and deny-lists.
type REPLConfig struct {
	MaxRecursionDepth int    `yaml:"max_recursion_depth" json:"max_recursion_depth"` // Nested analyze_subsection bound
	ExecutionTimeout  string `yaml:"execution_timeout" json:"execution_timeout"`     // Whole-script budget
	MaxResultItems    int    `yaml:"max_result_items" json:"max_result_items"`       // Final result list cap
	MaxCodeBytes      int    `yaml:"max_code_bytes" json:"max_code_bytes"`           // Rejected before parsing when larger
	MaxOutputBytes    int    `yaml:"max_output_bytes" json:"max_output_bytes"`       // Captured print/println output
	ParallelWorkers   int    `yaml:"parallel_workers" json:"parallel_workers"`       // 1 = sequential parallel_analyze
	MaxParallelRanges int    `yaml:"max_parallel_ranges" json:"max_parallel_ranges"` // parallel_analyze input cap
	PolicyFactLimit   int    `yaml:"policy_fact_limit" json:"policy_fact_limit"`     // Mangle facts per validation

	// Per-capability time budgets and list caps, keyed by protocol name.
	CallBudgets map[string]string `yaml:"call_budgets" json:"call_budgets"`
	CallCaps    map[string]int    `yaml:"call_caps" json:"call_caps"`

	// Layer-1 deny-lists fed to the script policy as facts.
	DeniedIdentifiers []string `yaml:"denied_identifiers" json:"denied_identifiers"`
	DeniedCalls       []string `yaml:"denied_calls" json:"denied_calls"`
	DeniedTokens      []string `yaml:"denied_tokens" json:"denied_tokens"`
}

// DefaultREPLConfig returns the limits the engine ships with.
func DefaultREPLConfig() REPLConfig {
	return REPLConfig{
		MaxRecursionDepth: 5,
		ExecutionTimeout:  "5s",
		MaxResultItems:    1000,
		MaxCodeBytes:      64 * 1024,
		MaxOutputBytes:    16 * 1024,
		ParallelWorkers:   1,
		MaxParallelRanges: 10,
		PolicyFactLimit:   20000,
		CallBudgets: map[string]string{
			"find_messages":      "2s",
			"filter_by_date":     "2s",
			"filter_by_role":     "1s",
			"filter_by_metadata": "2s",
			"grep":               "2s",
			"search_semantic":    "3s",
			"summarize_range":    "3s",
			"aggregate_facts":    "2s",
			"extract_entities":   "2s",
			"get_timeline":       "1s",
			"get_topics":         "1s",
			"count_messages":     "1s",
			"get_message":        "1s",
			"slice_messages":     "1s",
		},
		CallCaps: map[string]int{
			"find_messages":      1000,
			"filter_by_date":     1000,
			"filter_by_role":     1000,
			"filter_by_metadata": 1000,
			"grep":               1000,
			"search_semantic":    100,
		},
		DeniedIdentifiers: []string{
			"os", "sys", "exec", "subprocess", "syscall", "unsafe", "reflect",
			"runtime", "plugin", "net", "http", "ioutil", "filepath", "socket",
			"eval", "compile", "__import__", "open", "file",
		},
		DeniedCalls: []string{
			"open", "file", "read", "write", "readfile", "writefile", "readdir",
			"create", "remove", "removeall", "mkdir", "chmod", "command", "system",
			"dial", "listen", "getenv", "setenv", "exit", "eval", "compile", "recover",
		},
		DeniedTokens: []string{"import", "package", "go", "goto"},
	}
}

// Validate checks that REPL limits are within acceptable ranges.
func (r REPLConfig) Validate() error {
	if r.MaxRecursionDepth < 0 {
		return fmt.Errorf("max_recursion_depth must be >= 0")
	}
	if r.MaxResultItems < 1 {
		return fmt.Errorf("max_result_items must be >= 1")
	}
	if r.MaxCodeBytes < 1 {
		return fmt.Errorf("max_code_bytes must be >= 1")
	}
	if r.ParallelWorkers < 1 {
		return fmt.Errorf("parallel_workers must be >= 1")
	}
	if r.MaxParallelRanges < 1 {
		return fmt.Errorf("max_parallel_ranges must be >= 1")
	}
	if _, err := time.ParseDuration(r.ExecutionTimeout); err != nil {
		return fmt.Errorf("invalid execution_timeout %q: %w", r.ExecutionTimeout, err)
	}
	for name, budget := range r.CallBudgets {
		if _, err := time.ParseDuration(budget); err != nil {
			return fmt.Errorf("invalid call budget for %s: %w", name, err)
		}
	}
	return nil
}

// GetExecutionTimeout returns the per-script timeout as a duration.
func (r REPLConfig) GetExecutionTimeout() time.Duration {
	d, err := time.ParseDuration(r.ExecutionTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetCallBudgets parses the per-capability budgets. Unparseable entries are skipped.
func (r REPLConfig) GetCallBudgets() map[string]time.Duration {
	out := make(map[string]time.Duration, len(r.CallBudgets))
	for name, budget := range r.CallBudgets {
		d, err := time.ParseDuration(budget)
		if err != nil || d <= 0 {
			continue
		}
		out[name] = d
	}
	return out
}
