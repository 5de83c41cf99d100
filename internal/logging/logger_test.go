package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"rlmrepl/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zapcore.Level
		wantErr bool
	}{
		{"debug", zapcore.DebugLevel, false},
		{"", zapcore.InfoLevel, false},
		{"INFO", zapcore.InfoLevel, false},
		{"warning", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", zapcore.InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, _, err := New(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestInitialize_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rlm.log")
	t.Cleanup(func() { SetRoot(nil, config.LoggingConfig{}) })

	require.NoError(t, Initialize(config.LoggingConfig{
		Level:     "debug",
		Format:    "json",
		File:      path,
		MaxSizeMB: 1,
	}))

	Get(CategorySandbox).Info("validated", zap.Int("facts", 12))
	require.NoError(t, Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"logger":"sandbox"`), line)
	assert.True(t, strings.Contains(line, `"facts":12`), line)
}

func TestGet_CategoryToggle(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetRoot(zap.New(core), config.LoggingConfig{
		Categories: map[string]bool{"capability": false},
	})
	t.Cleanup(func() { SetRoot(nil, config.LoggingConfig{}) })

	Get(CategoryCapability).Info("hidden")
	Get(CategoryREPL).Info("shown")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "shown", entries[0].Message)
	assert.Equal(t, "repl", entries[0].LoggerName)
}

func TestGet_DefaultIsNop(t *testing.T) {
	SetRoot(nil, config.LoggingConfig{})
	// Must not panic or write anywhere.
	Get(CategoryBoot).Error("nothing")
}
