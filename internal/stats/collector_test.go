package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counts(t *testing.T) {
	tests := []struct {
		name      string
		successes int
		failures  []string
	}{
		{"empty", 0, nil},
		{"only successes", 3, nil},
		{"only failures", 0, []string{"timeout", "compile_error"}},
		{"mixed", 4, []string{"security_violation", "security_violation", "runtime_error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCollector()
			for i := 0; i < tt.successes; i++ {
				c.Begin()
				c.Success(10 * time.Millisecond)
			}
			for _, kind := range tt.failures {
				c.Begin()
				c.Failure(kind)
			}

			s := c.Snapshot()
			k, f := int64(tt.successes), int64(len(tt.failures))
			assert.Equal(t, k+f, s.Executions)
			assert.Equal(t, k, s.Successful)
			assert.Equal(t, f, s.Failed)
			if k > 0 {
				assert.InDelta(t, 0.01, s.AvgTime, 1e-9)
				assert.InDelta(t, 100*float64(k)/float64(k+f), s.SuccessRate, 1e-9)
			} else {
				assert.Zero(t, s.AvgTime)
			}
			var byKind int64
			for _, n := range s.ErrorsByKind {
				byKind += n
			}
			assert.Equal(t, f, byKind)
		})
	}
}

func TestCollector_Concurrent(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Begin()
			if i%5 == 0 {
				c.Failure("timeout")
				return
			}
			c.Success(time.Millisecond)
		}(i)
	}
	wg.Wait()

	s := c.Snapshot()
	assert.Equal(t, int64(50), s.Executions)
	assert.Equal(t, int64(40), s.Successful)
	assert.Equal(t, int64(10), s.ErrorsByKind["timeout"])
}

func TestCollector_Register(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector()
	require.NoError(t, c.Register(reg, "session-1"))

	c.Begin()
	c.Success(5 * time.Millisecond)
	c.Begin()
	c.Failure("timeout")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.errs.WithLabelValues("timeout")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range families {
		names[mf.GetName()] = true
		for _, m := range mf.GetMetric() {
			var session string
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "session" {
					session = lp.GetValue()
				}
			}
			assert.Equal(t, "session-1", session, mf.GetName())
		}
	}
	assert.True(t, names["rlm_executions_total"])
	assert.True(t, names["rlm_execution_errors_total"])
	assert.True(t, names["rlm_execution_duration_seconds"])

	// A second collector for another session shares the registry.
	other := NewCollector()
	require.NoError(t, other.Register(reg, "session-2"))
	assert.Error(t, NewCollector().Register(reg, "session-1"))
}

func TestCollector_Reset(t *testing.T) {
	c := NewCollector()
	c.Begin()
	c.Failure("runtime_error")
	c.Reset()

	s := c.Snapshot()
	assert.Zero(t, s.Executions)
	assert.Zero(t, s.Failed)
	assert.Empty(t, s.ErrorsByKind)
}
