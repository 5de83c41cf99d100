// Package logging provides config-driven categorized zap logging for rlmrepl.
// Until Initialize is called every category logger is a no-op, so library
// callers that never configure logging stay silent.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"rlmrepl/internal/config"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot         Category = "boot"         // CLI startup
	CategorySandbox      Category = "sandbox"      // Validation and interpreter runs
	CategoryCapability   Category = "capability"   // Capability calls, budgets, truncation
	CategoryConversation Category = "conversation" // Message ingestion and extraction
	CategoryREPL         Category = "repl"         // Manager lifecycle and executions
	CategoryTranscript   Category = "transcript"   // SQLite persistence
	CategoryAnalysis     Category = "analysis"     // Nested analysis backends
)

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	current config.LoggingConfig
	closer  io.Closer
)

// New builds a zap logger from cfg. When cfg.File is set, output goes to a
// lumberjack-rotated file instead of stderr.
func New(cfg config.LoggingConfig) (*zap.Logger, io.Closer, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "", "console":
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	var (
		sink zapcore.WriteSyncer
		c    io.Closer
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		sink = zapcore.AddSync(lj)
		c = lj
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core), c, nil
}

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

// Initialize installs the process-wide root logger.
// Should be called once at startup.
func Initialize(cfg config.LoggingConfig) error {
	logger, c, err := New(cfg)
	if err != nil {
		return err
	}
	SetRoot(logger, cfg)

	mu.Lock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	mu.Unlock()
	return nil
}

// SetRoot replaces the root logger directly. Tests use it with zaptest/observer cores.
func SetRoot(logger *zap.Logger, cfg config.LoggingConfig) {
	if logger == nil {
		logger = zap.NewNop()
	}
	mu.Lock()
	root = logger
	current = cfg
	mu.Unlock()
}

// Get returns the named logger for a category. Disabled categories get a no-op logger.
func Get(category Category) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	if !current.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}
	return root.Named(string(category))
}

// Sync flushes the root logger and closes any rotating file.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	_ = root.Sync()
	if closer != nil {
		err := closer.Close()
		closer = nil
		return err
	}
	return nil
}
