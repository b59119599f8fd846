package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/voice-bridge/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "voicebridge"

// redacted replaces the value of sensitive attributes.
const redacted = "[REDACTED]"

// sensitiveKeys are attribute keys whose values never reach the output:
// credentials, and audio which is large and personal.
var sensitiveKeys = map[string]bool{
	"api_key":    true,
	"password":   true,
	"token":      true,
	"audio":      true,
	"audio_data": true,
}

// Logger is a slog.Logger carrying service and version on every entry.
// Safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to cfg.Output (stdout unless "stderr").
func New(cfg config.LoggingConfig, version string) *Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New with an explicit destination; cfg.Output is ignored.
// Format "text" selects slog's text handler, anything else JSON.
func NewWithWriter(cfg config.LoggingConfig, version string, output io.Writer) *Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(cfg.Level),
		ReplaceAttr: redact,
	}

	var handler slog.Handler = slog.NewJSONHandler(output, opts)
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{Logger: slog.New(handler).With(
		slog.String("service", ServiceName),
		slog.String("version", version),
	)}
}

// redact blanks sensitive attributes at any group depth.
func redact(_ []string, a slog.Attr) slog.Attr {
	if sensitiveKeys[strings.ToLower(a.Key)] {
		return slog.String(a.Key, redacted)
	}
	return a
}

// parseLevel maps debug, info, warn(ing) and error to slog levels; anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child Logger with extra attributes, typically a component:
//
//	log.With("component", "realtime").Info("connected", "strategy", name)
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is the logger used before configuration is loaded: JSON on
// stdout at info.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}
