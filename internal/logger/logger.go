// Package logger configures the process-wide slog logger and carries
// request and job identifiers through contexts.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	// RequestIDKey is the context key for the HTTP request ID.
	RequestIDKey ContextKey = "request_id"
	// JobIDKey is the context key for the search job ID.
	JobIDKey ContextKey = "job_id"
	// PlatformKey is the context key for the platform a worker searches.
	PlatformKey ContextKey = "platform"
)

// Config holds logger configuration.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text, auto
	Out    io.Writer
}

// ParseLevel maps a level name to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger without installing it.
func New(cfg *Config) *slog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if useJSON(cfg.Format, out) {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

// useJSON resolves the handler format. "auto" picks text for an interactive
// terminal and JSON for pipes, files and log collectors.
func useJSON(format string, out io.Writer) bool {
	switch format {
	case "json":
		return true
	case "auto":
		f, ok := out.(*os.File)
		return !ok || !term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Init initializes the global slog logger with the given configuration.
func Init(cfg *Config) {
	slog.SetDefault(New(cfg))
}

// WithJob returns ctx annotated with a job ID.
func WithJob(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithPlatform returns ctx annotated with a platform name.
func WithPlatform(ctx context.Context, platform string) context.Context {
	return context.WithValue(ctx, PlatformKey, platform)
}

// WithContext returns a logger with context values extracted.
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	for _, key := range []ContextKey{RequestIDKey, JobIDKey, PlatformKey} {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			logger = logger.With(string(key), v)
		}
	}
	return logger
}

// Info logs at info level with context.
func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// Debug logs at debug level with context.
func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

// Warn logs at warn level with context.
func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// Error logs at error level with context.
func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
