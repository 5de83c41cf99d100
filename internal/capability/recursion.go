package capability

import (
	"context"
	"sync"
	"sync/atomic"
)

type depthKey struct{}

// DepthFrom returns the recursion depth carried by ctx (0 at rest).
func DepthFrom(ctx context.Context) int {
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		return d
	}
	return 0
}

// RecursionController bounds nested analyze_subsection calls. Depth travels
// in the context, so concurrent branches each see their own level.
type RecursionController struct {
	max int

	mu     sync.Mutex
	active map[int]int // level -> in-flight calls
	calls  atomic.Int64
}

// NewRecursionController creates a controller allowing depths 1..max.
func NewRecursionController(max int) *RecursionController {
	if max < 0 {
		max = 0
	}
	return &RecursionController{max: max, active: make(map[int]int)}
}

// Enter admits one nested call below ctx. When parent+1 would exceed the
// maximum it returns ok=false and changes nothing. Otherwise the returned
// context carries parent+1 and release must be called exactly once.
func (r *RecursionController) Enter(ctx context.Context) (child context.Context, release func(), ok bool) {
	level := DepthFrom(ctx) + 1
	if level > r.max {
		return ctx, func() {}, false
	}

	r.mu.Lock()
	r.active[level]++
	r.mu.Unlock()
	r.calls.Add(1)

	var once sync.Once
	release = func() {
		once.Do(func() {
			r.mu.Lock()
			if r.active[level]--; r.active[level] <= 0 {
				delete(r.active, level)
			}
			r.mu.Unlock()
		})
	}
	return context.WithValue(ctx, depthKey{}, level), release, true
}

// Depth returns the deepest level currently active, 0 at rest.
func (r *RecursionController) Depth() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	deepest := 0
	for level := range r.active {
		if level > deepest {
			deepest = level
		}
	}
	return deepest
}

// Calls returns how many nested calls were admitted.
func (r *RecursionController) Calls() int64 {
	return r.calls.Load()
}

// Max returns the configured maximum depth.
func (r *RecursionController) Max() int { return r.max }

// ResetCalls zeroes the admitted-call counter.
func (r *RecursionController) ResetCalls() {
	r.calls.Store(0)
}
