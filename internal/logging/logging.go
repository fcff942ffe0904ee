// Package logging provides a configured slog logger with:
// - TTY detection for human-readable vs JSON output
// - LOG_FORMAT env var override (text/json)
// - LOG_LEVEL env var (debug/info/warn/error)
// - Source file:line info with shortened relative paths
package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// New creates a new configured logger.
// Format is determined by:
// 1. LOG_FORMAT env var (text/json)
// 2. TTY detection (text for TTY, JSON otherwise)
// Level is determined by LOG_LEVEL env var (debug/info/warn/error, default: info)
func New() *slog.Logger {
	var handler slog.Handler
	logFormat := os.Getenv("LOG_FORMAT")
	useText := logFormat == "text" || (logFormat == "" && isatty(os.Stdout))

	// Get working directory for relative path calculation
	wd, _ := os.Getwd()

	level := parseLogLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Shorten source paths to be relative
			if a.Key == slog.SourceKey {
				if src, ok := a.Value.Any().(*slog.Source); ok {
					if rel, err := filepath.Rel(wd, src.File); err == nil {
						src.File = rel
					} else {
						src.File = filepath.Base(src.File)
					}
				}
			}
			return a
		},
	}

	if useText {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// SetDefault creates a new logger and sets it as the default slog logger.
// Returns the created logger for additional use.
func SetDefault() *slog.Logger {
	logger := New()
	slog.SetDefault(logger)
	return logger
}

// isatty returns true if the file is a terminal.
func isatty(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// ContextKey is the type for logging-related context keys.
type ContextKey string

const (
	// MessageIDKey carries the message id being processed.
	MessageIDKey ContextKey = "log_message_id"
	// WebhookNameKey carries the webhook config name.
	WebhookNameKey ContextKey = "log_webhook_name"
)

// WithMessageID returns a context carrying the message id for log enrichment.
func WithMessageID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, MessageIDKey, id)
}

// WithWebhookName returns a context carrying the webhook name.
func WithWebhookName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, WebhookNameKey, name)
}

// GetMessageID extracts the message id from the context, or "".
func GetMessageID(ctx context.Context) string {
	if v, ok := ctx.Value(MessageIDKey).(string); ok {
		return v
	}
	return ""
}

// GetWebhookName extracts the webhook name from the context, or "".
func GetWebhookName(ctx context.Context) string {
	if v, ok := ctx.Value(WebhookNameKey).(string); ok {
		return v
	}
	return ""
}

// FromContext returns the logger enriched with any message id / webhook name
// present in the context. Returns the logger unchanged when nothing is set.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if ctx == nil {
		return logger
	}
	if id := GetMessageID(ctx); id != "" {
		logger = logger.With("message_id", id)
	}
	if name := GetWebhookName(ctx); name != "" {
		logger = logger.With("webhook", name)
	}
	return logger
}
