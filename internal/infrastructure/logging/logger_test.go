package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text", ""} {
		t.Run("format "+format, func(t *testing.T) {
			logger := New(config.LoggingConfig{Level: "info", Format: format, Output: "stderr"}, "1.0.0")
			require.NotNil(t, logger)
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected slog.Level
	}{
		{name: "trace level", input: "trace", expected: LevelTrace},
		{name: "debug level", input: "debug", expected: slog.LevelDebug},
		{name: "info level", input: "info", expected: slog.LevelInfo},
		{name: "warn level", input: "warn", expected: slog.LevelWarn},
		{name: "error level", input: "error", expected: slog.LevelError},
		{name: "unknown defaults to warn", input: "unknown", expected: slog.LevelWarn},
		{name: "empty defaults to warn", input: "", expected: slog.LevelWarn},
		{name: "case insensitive", input: "DEBUG", expected: slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.input))
		})
	}
}

func TestLevelFromFlags(t *testing.T) {
	assert.Equal(t, "", LevelFromFlags(false, false))
	assert.Equal(t, "", LevelFromFlags(false, true))
	assert.Equal(t, "debug", LevelFromFlags(true, false))
	assert.Equal(t, "trace", LevelFromFlags(true, true))
}

func TestLogger_With(t *testing.T) {
	logger := Default()
	child := logger.With("component", "mqtt")

	require.NotNil(t, child)
	assert.NotSame(t, logger, child)
}

func TestLogger_OutputContainsDefaultFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "test", &buf)

	logger.Info("test message", "key", "value")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "value", entry["key"])
	assert.Equal(t, "wyzesense-mqtt", entry["service"])
	assert.Equal(t, "test", entry["version"])
}

func TestLogger_TraceFiltering(t *testing.T) {
	var buf bytes.Buffer
	debugLogger := NewWithWriter(config.LoggingConfig{Level: "debug", Format: "text"}, "test", &buf)
	debugLogger.Trace("hidden")
	assert.Empty(t, buf.String())

	traceLogger := NewWithWriter(config.LoggingConfig{Level: "trace", Format: "text"}, "test", &buf)
	traceLogger.Trace("visible")
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.True(t, strings.Contains(out, "level=TRACE"), "trace level should be rendered by name: %s", out)
}
