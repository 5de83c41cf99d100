package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all rlmrepl configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Sandbox limits and deny-lists
	REPL REPLConfig `yaml:"repl"`

	// Conversation store behaviour (extraction, token counting)
	Conversation ConversationConfig `yaml:"conversation"`

	// Nested analysis backend for analyze_subsection
	Analysis AnalysisConfig `yaml:"analysis"`

	// Transcript persistence
	Transcript TranscriptConfig `yaml:"transcript"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Prometheus export of execution stats
	Metrics MetricsConfig `yaml:"metrics"`
}

// ConversationConfig configures the conversation store.
type ConversationConfig struct {
	TokenCounter      string  `yaml:"token_counter"`      // heuristic, tiktoken
	TokenizerEncoding string  `yaml:"tokenizer_encoding"` // cl100k_base, o200k_base
	FactConfidence    float64 `yaml:"fact_confidence"`
}

// TranscriptConfig configures the SQLite transcript recorder.
type TranscriptConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// MetricsConfig toggles Prometheus registration of execution stats.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "rlmrepl",
		Version: "0.3.0",

		REPL: DefaultREPLConfig(),

		Conversation: ConversationConfig{
			TokenCounter:      "heuristic",
			TokenizerEncoding: "cl100k_base",
			FactConfidence:    0.7,
		},

		Analysis: AnalysisConfig{
			Backend:   "local",
			Model:     "gemini-2.5-flash",
			BaseURL:   "http://localhost:11434",
			Timeout:   "60s",
			ChunkSize: 20,
		},

		Transcript: TranscriptConfig{
			Enabled:      false,
			DatabasePath: "data/transcripts.db",
		},

		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RLM_EXECUTION_TIMEOUT"); v != "" {
		c.REPL.ExecutionTimeout = v
	}
	if v := os.Getenv("RLM_MAX_RECURSION_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.REPL.MaxRecursionDepth = n
		}
	}
	if v := os.Getenv("RLM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	// Backend credentials from environment
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Analysis.APIKey = key
		if c.Analysis.Backend == "" || c.Analysis.Backend == "local" {
			c.Analysis.Backend = "gemini"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Analysis.BaseURL = host
	}

	// Database path from environment
	if path := os.Getenv("RLM_DB"); path != "" {
		c.Transcript.DatabasePath = path
		c.Transcript.Enabled = true
	}
}

// GetExecutionTimeout returns the per-script timeout as a duration.
func (c *Config) GetExecutionTimeout() time.Duration {
	return c.REPL.GetExecutionTimeout()
}

// GetAnalysisTimeout returns the nested analysis timeout as a duration.
func (c *Config) GetAnalysisTimeout() time.Duration {
	d, err := time.ParseDuration(c.Analysis.Timeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// ValidBackends lists all supported analysis backends.
var ValidBackends = []string{"local", "hierarchical", "gemini", "ollama"}

// ValidTokenCounters lists all supported token counters.
var ValidTokenCounters = []string{"heuristic", "tiktoken"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.REPL.Validate(); err != nil {
		return err
	}

	if !contains(ValidBackends, c.Analysis.Backend) {
		return fmt.Errorf("invalid analysis backend: %s (valid: %v)", c.Analysis.Backend, ValidBackends)
	}
	if c.Analysis.Backend == "gemini" && c.Analysis.APIKey == "" {
		return fmt.Errorf("gemini backend requires an API key (set GEMINI_API_KEY)")
	}

	if !contains(ValidTokenCounters, c.Conversation.TokenCounter) {
		return fmt.Errorf("invalid token counter: %s (valid: %v)", c.Conversation.TokenCounter, ValidTokenCounters)
	}
	if c.Conversation.FactConfidence < 0 || c.Conversation.FactConfidence > 1 {
		return fmt.Errorf("fact_confidence must be within [0,1], got %v", c.Conversation.FactConfidence)
	}

	if c.Transcript.Enabled && c.Transcript.DatabasePath == "" {
		return fmt.Errorf("transcript.database_path is required when transcripts are enabled")
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
