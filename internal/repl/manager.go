// Package repl owns one conversation session: the store, the sandboxed
// executor and the execution statistics behind it.
package repl

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"rlmrepl/internal/analysis"
	"rlmrepl/internal/capability"
	"rlmrepl/internal/config"
	"rlmrepl/internal/conversation"
	"rlmrepl/internal/logging"
	"rlmrepl/internal/sandbox"
	"rlmrepl/internal/stats"
	"rlmrepl/internal/transcript"
)

// ExecutionResult is what ExecuteCode reports for one script.
type ExecutionResult struct {
	ID            string              `json:"id"`
	Status        sandbox.Status      `json:"status"`
	Result        interface{}         `json:"result,omitempty"`
	Error         string              `json:"error,omitempty"`
	ErrorKind     string              `json:"error_kind,omitempty"`
	Violations    []sandbox.Violation `json:"violations,omitempty"`
	Output        string              `json:"output,omitempty"`
	Truncated     bool                `json:"truncated,omitempty"`
	ExecutionTime float64             `json:"execution_time"` // seconds
	Description   string              `json:"description,omitempty"`
	Stats         *stats.Snapshot     `json:"stats,omitempty"`
}

// Manager is one session's REPL. ExecuteCode, AddMessage, ClearCache, Reset
// and Restore are serialized; reads go straight to the store.
type Manager struct {
	id  string
	cfg *config.Config

	mu       sync.Mutex
	store    *conversation.Store
	registry *capability.Registry
	executor *sandbox.Executor
	stats    *stats.Collector
	recorder transcript.Recorder
	closers  []io.Closer
	logger   *zap.Logger

	// Option inputs, consumed by New.
	baseLogger *zap.Logger
	backend    analysis.Backend
	extractor  conversation.Extractor
	counter    conversation.TokenCounter
	now        func() time.Time
	metrics    prometheus.Registerer
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the parent logger; components log under named children.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.baseLogger = l }
}

// WithBackend injects the analyze_subsection backend.
func WithBackend(b analysis.Backend) Option {
	return func(m *Manager) { m.backend = b }
}

// WithExtractor replaces the heuristic fact/entity/topic extractor.
func WithExtractor(e conversation.Extractor) Option {
	return func(m *Manager) { m.extractor = e }
}

// WithTokenCounter replaces the configured token counter.
func WithTokenCounter(c conversation.TokenCounter) Option {
	return func(m *Manager) { m.counter = c }
}

// WithClock injects the time source for messages and analyses.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithMetrics registers the session's execution metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(m *Manager) { m.metrics = reg }
}

// WithRecorder records every added message.
func WithRecorder(r transcript.Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithSessionID fixes the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(m *Manager) { m.id = id }
}

// New builds a Manager from cfg. A nil cfg means config.DefaultConfig().
func New(cfg *config.Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Manager{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	if m.id == "" {
		m.id = uuid.NewString()
	}
	m.logger = m.named(logging.CategoryREPL).With(zap.String("session", m.id))

	if m.counter == nil {
		counter, err := conversation.NewTokenCounter(cfg.Conversation.TokenCounter, cfg.Conversation.TokenizerEncoding)
		if err != nil {
			return nil, err
		}
		m.counter = counter
	}
	if m.backend == nil {
		backend, err := analysis.New(cfg.Analysis, m.named(logging.CategoryAnalysis))
		if err != nil {
			return nil, fmt.Errorf("analysis backend: %w", err)
		}
		m.backend = backend
	}

	storeOpts := []conversation.Option{
		conversation.WithTokenCounter(m.counter),
		conversation.WithClock(m.now),
		conversation.WithLogger(m.named(logging.CategoryConversation)),
	}
	if m.extractor != nil {
		storeOpts = append(storeOpts, conversation.WithExtractor(m.extractor))
	}
	if cfg.Conversation.FactConfidence > 0 {
		storeOpts = append(storeOpts, conversation.WithFactConfidence(cfg.Conversation.FactConfidence))
	}
	m.store = conversation.NewStore(storeOpts...)

	m.registry = capability.NewRegistry(m.store, cfg.REPL,
		capability.WithBackend(m.backend),
		capability.WithLogger(m.named(logging.CategoryCapability)),
		capability.WithClock(m.now))

	executor, err := sandbox.NewExecutor(m.registry, cfg.REPL, m.named(logging.CategorySandbox))
	if err != nil {
		return nil, err
	}
	m.executor = executor

	m.stats = stats.NewCollector()
	if m.metrics == nil && cfg.Metrics.Enabled {
		m.metrics = prometheus.DefaultRegisterer
	}
	if m.metrics != nil {
		if err := m.stats.Register(m.metrics, m.id); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}

	if m.recorder == nil && cfg.Transcript.Enabled {
		db, err := transcript.NewSQLite(cfg.Transcript.DatabasePath, m.named(logging.CategoryTranscript))
		if err != nil {
			return nil, fmt.Errorf("transcript store: %w", err)
		}
		m.recorder = db
		m.closers = append(m.closers, db)
	}

	m.logger.Info("REPL manager ready",
		zap.String("backend", m.backend.Name()),
		zap.Int("max_recursion_depth", cfg.REPL.MaxRecursionDepth),
		zap.Duration("execution_timeout", cfg.REPL.GetExecutionTimeout()))
	return m, nil
}

func (m *Manager) named(c logging.Category) *zap.Logger {
	if m.baseLogger != nil {
		return m.baseLogger.Named(string(c))
	}
	return logging.Get(c)
}

// ID returns the current session id.
func (m *Manager) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id
}

// Store exposes the conversation store for read access.
func (m *Manager) Store() *conversation.Store { return m.store }

// AddMessage appends a message and mines it. Recording failures are logged,
// never returned.
func (m *Manager) AddMessage(role, content string, metadata map[string]interface{}) conversation.Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := m.store.Add(role, content, metadata)
	if m.recorder != nil {
		if err := m.recorder.Record(context.Background(), m.id, msg); err != nil {
			m.logger.Warn("Failed to record message", zap.Int("id", msg.ID), zap.Error(err))
		}
	}
	return msg
}

// ExecuteCode validates and runs code. It never panics and never returns a
// Go error; failures are reported in the result.
func (m *Manager) ExecuteCode(ctx context.Context, code, description string) ExecutionResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Begin()
	res := m.executor.Execute(ctx, code)

	out := ExecutionResult{
		ID:            uuid.NewString(),
		Status:        res.Status,
		Result:        res.Value,
		Error:         res.Error,
		ErrorKind:     res.ErrorKind,
		Violations:    res.Violations,
		Output:        res.Output,
		Truncated:     res.Truncated,
		ExecutionTime: res.Duration.Seconds(),
		Description:   description,
	}

	if res.Status == sandbox.StatusSuccess {
		m.stats.Success(res.Duration)
		snap := m.statsLocked()
		out.Stats = &snap
		m.logger.Info("Code executed",
			zap.String("execution", out.ID),
			zap.Duration("duration", res.Duration),
			zap.String("description", description),
			zap.Bool("truncated", res.Truncated))
		return out
	}

	m.stats.Failure(res.ErrorKind)
	m.logger.Warn("Code execution failed",
		zap.String("execution", out.ID),
		zap.String("kind", res.ErrorKind),
		zap.String("error", res.Error),
		zap.String("description", description))
	return out
}

// GetStats returns execution counters together with store totals.
func (m *Manager) GetStats() stats.Snapshot {
	return m.statsLocked()
}

// statsLocked only touches components with their own locks, so it is safe
// with or without m.mu held.
func (m *Manager) statsLocked() stats.Snapshot {
	s := m.stats.Snapshot()
	rc := m.registry.Recursion()
	s.RecursiveCalls = rc.Calls()
	s.CurrentDepth = rc.Depth()
	s.TotalMessages = m.store.Len()
	s.TotalFacts = len(m.store.Facts())
	s.TotalEntities = len(m.store.Entities())
	return s
}

// ClearCache drops memoized range summaries.
func (m *Manager) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.ClearCache()
	m.logger.Info("Cleared REPL cache")
}

// Reset drops the conversation and zeroes the statistics. Message IDs start
// over, so the manager moves to a fresh session id and the recorded
// transcript of the old one is left intact.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.Reset()
	m.stats.Reset()
	m.registry.Recursion().ResetCalls()

	old := m.id
	m.id = uuid.NewString()
	m.logger = m.named(logging.CategoryREPL).With(zap.String("session", m.id))
	m.logger.Warn("REPL state reset", zap.String("previous_session", old))
}

// Restore replays a recorded session into the store without re-recording it.
// Messages whose timestamps cannot be read are stamped with the clock.
func (m *Manager) Restore(ctx context.Context, source transcript.Source, session string) (int, error) {
	msgs, err := source.Load(ctx, session)
	if err != nil {
		return 0, fmt.Errorf("load session %s: %w", session, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		ts, ok := transcript.ParseTimestamp(msg.Timestamp)
		if !ok {
			ts = m.now()
		}
		m.store.AddRecord(msg.Role, msg.Content, ts, msg.Metadata)
	}
	m.logger.Info("Session restored", zap.String("from", session), zap.Int("messages", len(msgs)))
	return len(msgs), nil
}

// Close releases resources the manager opened itself.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	m.closers = nil
	return first
}
