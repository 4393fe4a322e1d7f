// Package logging provides structured logging for candlecache.
//
// This package wraps the standard library's log/slog package to provide
// consistent logging across all components. It supports both text and JSON
// output formats, configurable log levels, and component-based loggers.
//
// Usage:
//
//	// Initialize at startup
//	logging.Init(slog.LevelInfo, false) // Text format
//	logging.Init(slog.LevelDebug, true) // JSON format
//
//	// Get a component logger
//	var log = logging.Component("catalog")
//	log.Info("catalog opened", "path", path)
//
//	// Log with request context
//	logging.WithContext(ctx).Warn("fetch failed", "error", err)
//
// Component loggers may be created in package-level vars; they resolve the
// handler installed by Init at the time each record is written.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the global logger instance.
var Logger *slog.Logger

var current atomic.Pointer[slog.Logger]

func init() {
	setLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))
}

// Init initializes the global logger with the specified level and format.
// Logs go to stderr so command output on stdout stays machine-readable.
func Init(level slog.Level, jsonFormat bool) {
	InitWriter(os.Stderr, level, jsonFormat)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level slog.Level, jsonFormat bool) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if jsonFormat {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	InitWithHandler(handler)
}

// InitWithHandler initializes the global logger with a custom handler.
// This is useful for testing or custom output destinations.
func InitWithHandler(handler slog.Handler) {
	setLogger(slog.New(handler))
}

func setLogger(l *slog.Logger) {
	Logger = l
	current.Store(l)
	slog.SetDefault(l)
}

// ParseLevel maps a config/flag level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

// With returns a new logger with additional attributes.
func With(args ...any) *slog.Logger {
	return current.Load().With(args...)
}

// Component returns a logger for a specific component.
// The component name is added as an attribute to all log entries.
//
// Example:
//
//	log := logging.Component("fetch")
//	log.Info("started") // Output: time=... level=INFO component=fetch msg=started
func Component(name string) *slog.Logger {
	return slog.New(&lateHandler{}).With("component", name)
}

// lateHandler forwards to whichever logger is current when a record is
// handled, keeping attributes and groups added via With/WithGroup.
type lateHandler struct {
	ops []func(slog.Handler) slog.Handler
}

func (h *lateHandler) resolve() slog.Handler {
	target := current.Load().Handler()
	for _, op := range h.ops {
		target = op(target)
	}
	return target
}

func (h *lateHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return current.Load().Handler().Enabled(ctx, level)
}

func (h *lateHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.resolve().Handle(ctx, r)
}

func (h *lateHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithAttrs(attrs) })
}

func (h *lateHandler) WithGroup(name string) slog.Handler {
	return h.with(func(t slog.Handler) slog.Handler { return t.WithGroup(name) })
}

func (h *lateHandler) with(op func(slog.Handler) slog.Handler) slog.Handler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &lateHandler{ops: append(ops, op)}
}

// WithContext returns a logger that includes context values.
func WithContext(ctx context.Context) *slog.Logger {
	logger := current.Load()

	if requestID, ok := ctx.Value(contextKeyRequestID).(string); ok {
		logger = logger.With("request_id", requestID)
	}
	if key, ok := ctx.Value(contextKeyCacheKey).(string); ok {
		logger = logger.With("key", key)
	}

	return logger
}

// Context key types for type-safe context value extraction.
type contextKey int

const (
	contextKeyRequestID contextKey = iota
	contextKeyCacheKey
)

// ContextWithRequestID adds a request ID to the context for logging.
func ContextWithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// ContextWithCacheKey adds the series key being served to the context.
func ContextWithCacheKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKeyCacheKey, key)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// =============================================================================
// Convenience Functions
// =============================================================================

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	current.Load().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	current.Load().Info(msg, args...)
}

// Warn logs at warning level.
func Warn(msg string, args ...any) {
	current.Load().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	current.Load().Error(msg, args...)
}
