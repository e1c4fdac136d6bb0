package memmap

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with memmap-specific fields.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// LogOp logs the outcome of a mapping call.
func (l *Logger) LogOp(op string, addr, length uintptr, err error) {
	ctx := context.Background()
	if err != nil {
		l.DebugContext(ctx, op+" failed",
			"addr", addr,
			"len", length,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"addr", addr,
			"len", length,
		)
	}
}

// LogMap logs an mmap call.
func (l *Logger) LogMap(hint, length uintptr, prot Prot, flags Flag, base uintptr, err error) {
	ctx := context.Background()
	if err != nil {
		l.DebugContext(ctx, "mmap failed",
			"hint", hint,
			"len", length,
			"prot", prot.String(),
			"flags", uint32(flags),
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "mmap completed",
			"addr", base,
			"len", length,
			"prot", prot.String(),
			"flags", uint32(flags),
		)
	}
}

// LogBestEffort logs a failure that is not reported to the caller.
func (l *Logger) LogBestEffort(what string, addr, length uintptr, err error) {
	if err == nil {
		return
	}
	l.WarnContext(context.Background(), what+" failed",
		"addr", addr,
		"len", length,
		"error", err,
	)
}

// LogBulk logs the result of a whole-process lock or unlock.
func (l *Logger) LogBulk(op string, regions int, err error) {
	ctx := context.Background()
	if err != nil {
		l.WarnContext(ctx, op+" completed with failures",
			"regions", regions,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"regions", regions,
		)
	}
}
