// Package stats counts script executions for one session and can export the
// counters to Prometheus.
package stats

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time copy of the execution counters plus the
// conversation and recursion figures the owner fills in.
type Snapshot struct {
	Executions     int64            `json:"executions"`
	Successful     int64            `json:"successful"`
	Failed         int64            `json:"failed"`
	ErrorsByKind   map[string]int64 `json:"errors_by_kind"`
	RecursiveCalls int64            `json:"recursive_calls"`
	CurrentDepth   int              `json:"current_depth"`
	TotalTime      float64          `json:"total_time"`         // seconds, successful runs only
	AvgTime        float64          `json:"avg_execution_time"` // TotalTime / Successful
	SuccessRate    float64          `json:"success_rate"`       // percent
	TotalMessages  int              `json:"total_messages"`
	TotalFacts     int              `json:"total_facts"`
	TotalEntities  int              `json:"total_entities"`
}

// Collector accumulates execution counters. It is safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	executions int64
	successful int64
	failed     int64
	totalTime  time.Duration
	byKind     map[string]int64

	runs     *prometheus.CounterVec
	errs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		byKind: make(map[string]int64),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_executions_total",
				Help: "Script executions by final status",
			},
			[]string{"status"},
		),
		errs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rlm_execution_errors_total",
				Help: "Failed script executions by error kind",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rlm_execution_duration_seconds",
				Help:    "Duration of successful script executions",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8), // 0.5ms to ~8s
			},
		),
	}
}

// Register exports the collector's metrics through reg, labelled with session.
func (c *Collector) Register(reg prometheus.Registerer, session string) error {
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"session": session}, reg)
	for _, m := range []prometheus.Collector{c.runs, c.errs, c.duration} {
		if err := wrapped.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// Begin counts a new execution.
func (c *Collector) Begin() {
	c.mu.Lock()
	c.executions++
	c.mu.Unlock()
}

// Success records a successful execution that took d.
func (c *Collector) Success(d time.Duration) {
	c.mu.Lock()
	c.successful++
	c.totalTime += d
	c.mu.Unlock()

	c.runs.WithLabelValues("success").Inc()
	c.duration.Observe(d.Seconds())
}

// Failure records a failed execution of the given error kind.
func (c *Collector) Failure(kind string) {
	c.mu.Lock()
	c.failed++
	c.byKind[kind]++
	c.mu.Unlock()

	c.runs.WithLabelValues("error").Inc()
	c.errs.WithLabelValues(kind).Inc()
}

// Snapshot copies the counters. Conversation and recursion fields are zero.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	byKind := make(map[string]int64, len(c.byKind))
	for k, v := range c.byKind {
		byKind[k] = v
	}
	s := Snapshot{
		Executions:   c.executions,
		Successful:   c.successful,
		Failed:       c.failed,
		ErrorsByKind: byKind,
		TotalTime:    c.totalTime.Seconds(),
	}
	if c.successful > 0 {
		s.AvgTime = s.TotalTime / float64(c.successful)
	}
	if c.executions > 0 {
		s.SuccessRate = 100 * float64(c.successful) / float64(c.executions)
	}
	return s
}

// Reset zeroes the in-memory counters. Exported Prometheus counters keep
// counting, as counters must.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.executions, c.successful, c.failed = 0, 0, 0
	c.totalTime = 0
	c.byKind = make(map[string]int64)
}
