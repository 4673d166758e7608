// Package logger provides a package-level structured logger for gleaner.
//
// The zero value logs at info level as text to stderr. Init reconfigures the
// shared logger; the one-shot CLI uses text output, the daemon switches to
// JSON so log lines carry machine-readable key-value pairs (run IDs, source
// URLs, error kinds).
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	mu            sync.RWMutex
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

// Options configures the shared logger.
type Options struct {
	// Debug enables debug-level logging.
	Debug bool

	// Quiet suppresses everything below error level. Takes precedence
	// over Debug.
	Quiet bool

	// JSON switches to the JSON handler (daemon mode).
	JSON bool

	// Output overrides the destination. Defaults to stderr.
	Output io.Writer

	// Logger, when set, is installed as-is and all other options are
	// ignored.
	Logger *slog.Logger
}

// Init configures the shared logger. Safe to call concurrently, though it is
// normally called once at startup.
func Init(opts Options) {
	if opts.Logger != nil {
		SetLogger(opts.Logger)
		return
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	if opts.Quiet {
		level = slog.LevelError
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	SetLogger(slog.New(handler))
}

// SetLogger replaces the shared logger.
func SetLogger(l *slog.Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Logger returns the current shared logger for callers that need to hand a
// *slog.Logger to another library.
func Logger() *slog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// Debug logs at debug level.
func Debug(msg string, args ...any) {
	Logger().Debug(msg, args...)
}

// Info logs at info level.
func Info(msg string, args ...any) {
	Logger().Info(msg, args...)
}

// Warn logs at warn level.
func Warn(msg string, args ...any) {
	Logger().Warn(msg, args...)
}

// Error logs at error level.
func Error(msg string, args ...any) {
	Logger().Error(msg, args...)
}

// With returns a logger carrying the given attributes.
func With(args ...any) *slog.Logger {
	return Logger().With(args...)
}

// DebugContext logs at debug level with a context.
func DebugContext(ctx context.Context, msg string, args ...any) {
	Logger().DebugContext(ctx, msg, args...)
}

// InfoContext logs at info level with a context.
func InfoContext(ctx context.Context, msg string, args ...any) {
	Logger().InfoContext(ctx, msg, args...)
}

// ErrorContext logs at error level with a context.
func ErrorContext(ctx context.Context, msg string, args ...any) {
	Logger().ErrorContext(ctx, msg, args...)
}
