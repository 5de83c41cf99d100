package capability

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"rlmrepl/internal/config"
)

// Governor enforces time budgets and result-size caps.
type Governor struct {
	timeout  time.Duration
	budgets  map[string]time.Duration
	caps     map[string]int
	maxItems int
	logger   *zap.Logger
}

// NewGovernor builds a governor from the REPL limits.
func NewGovernor(cfg config.REPLConfig, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	caps := make(map[string]int, len(cfg.CallCaps))
	for k, v := range cfg.CallCaps {
		caps[k] = v
	}
	maxItems := cfg.MaxResultItems
	if maxItems <= 0 {
		maxItems = 1000
	}
	return &Governor{
		timeout:  cfg.GetExecutionTimeout(),
		budgets:  cfg.GetCallBudgets(),
		caps:     caps,
		maxItems: maxItems,
		logger:   logger,
	}
}

// Deadline applies the per-execution timeout to ctx.
func (g *Governor) Deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// Timeout returns the per-execution timeout.
func (g *Governor) Timeout() time.Duration { return g.timeout }

// MaxItems returns the final-result list cap.
func (g *Governor) MaxItems() int { return g.maxItems }

// admit refuses to start op once ctx is done.
func (g *Governor) admit(ctx context.Context, op string) {
	if err := ctx.Err(); err != nil {
		raise(contextKind(err), op, err)
	}
}

// settle raises a timeout when op ran past its budget.
func (g *Governor) settle(op string, start time.Time) {
	budget, ok := g.budgets[op]
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > budget {
		g.logger.Warn("Capability exceeded budget",
			zap.String("op", op),
			zap.Duration("elapsed", elapsed),
			zap.Duration("budget", budget))
		raise(KindTimeout, op, fmt.Errorf("exceeded %v budget", budget))
	}
}

// guard runs fn as capability op under the governor.
func guard[T any](ctx context.Context, g *Governor, op string, fn func() T) T {
	g.admit(ctx, op)
	start := time.Now()
	v := fn()
	g.settle(op, start)
	return v
}

// guardList is guard plus the per-call list cap for op.
func guardList[E any](ctx context.Context, g *Governor, op string, fn func() []E) []E {
	items := guard(ctx, g, op, fn)
	if limit, ok := g.caps[op]; ok && limit > 0 && len(items) > limit {
		g.logger.Info("Capability result capped",
			zap.String("op", op),
			zap.Int("items", len(items)),
			zap.Int("cap", limit))
		items = items[:limit]
	}
	return items
}

// Truncate caps slice and array results at MaxItems. Other values pass through.
func (g *Governor) Truncate(v interface{}) (interface{}, bool) {
	if v == nil {
		return nil, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Len() <= g.maxItems {
		return v, false
	}
	g.logger.Warn("Result truncated",
		zap.Int("items", rv.Len()),
		zap.Int("max_result_items", g.maxItems))
	return rv.Slice(0, g.maxItems).Interface(), true
}
