package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Poppeseed/wyzesense-mqtt/internal/infrastructure/config"
)

// LevelTrace sits below debug and is enabled by --debug --verbose.
// It carries raw dongle packet dumps.
const LevelTrace = slog.LevelDebug - 4

// Logger wraps slog.Logger with bridge-specific functionality.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the specified configuration.
//
// It configures:
//   - Output format (text for the console, JSON for log shippers)
//   - Log level filtering, including the trace level
//   - Default fields (service name, version)
//   - Output destination
//
// Parameters:
//   - cfg: Logging configuration
//   - version: Application version for default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}

	return NewWithWriter(cfg, version, output)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: renameTraceLevel,
	}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", "wyzesense-mqtt"),
		slog.String("version", version),
	})

	return &Logger{
		Logger: slog.New(handler),
	}
}

// ParseLevel converts a string log level to slog.Level.
//
// Supported levels: trace, debug, info, warn, error.
// Defaults to warn if unrecognised, which keeps the console quiet.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// LevelFromFlags maps the --debug and --verbose flags to a level name.
// --verbose only has an effect together with --debug.
// An empty result means the flags do not override the configured level.
func LevelFromFlags(debug, verbose bool) string {
	switch {
	case debug && verbose:
		return "trace"
	case debug:
		return "debug"
	default:
		return ""
	}
}

// renameTraceLevel prints LevelTrace as "TRACE" instead of "DEBUG-4".
func renameTraceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key != slog.LevelKey {
		return a
	}
	if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= LevelTrace {
		a.Value = slog.StringValue("TRACE")
	}
	return a
}

// With returns a new Logger with additional default attributes.
//
// Example:
//
//	dongleLogger := logger.With("component", "dongle")
//	dongleLogger.Info("opened") // Includes component=dongle
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// Trace logs at LevelTrace.
func (l *Logger) Trace(msg string, args ...any) {
	l.Log(context.Background(), LevelTrace, msg, args...)
}

// Default creates a default logger for use before configuration is loaded.
// It writes warnings and errors as text to stderr.
func Default() *Logger {
	return New(config.LoggingConfig{
		Level:  "warn",
		Format: "text",
		Output: "stderr",
	}, "dev")
}
