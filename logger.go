package bulkstore

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with bulkstore-specific context.
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
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// WithID adds an object ID field to the logger.
func (l *Logger) WithID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("id", id),
	}
}

// WithConnection adds a connection field to the logger.
func (l *Logger) WithConnection(conn int64) *Logger {
	return &Logger{
		Logger: l.Logger.With("conn", conn),
	}
}

// LogCreate logs a blob allocation.
func (l *Logger) LogCreate(ctx context.Context, id string, size int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "create failed",
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "create completed",
			"id", id,
			"size", size,
		)
	}
}

// LogDelete logs a blob deletion.
func (l *Logger) LogDelete(ctx context.Context, id string, released bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "delete completed",
			"id", id,
			"released", released,
		)
	}
}

// LogReclaim logs pages returned to the operating system.
// Advice failures are reported at warn level since reclamation is best effort.
func (l *Logger) LogReclaim(ctx context.Context, fd int, offset, length uint64, err error) {
	if err != nil {
		l.WarnContext(ctx, "reclaim failed",
			"fd", fd,
			"offset", offset,
			"length", length,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "reclaim completed",
			"fd", fd,
			"offset", offset,
			"length", length,
		)
	}
}

// LogArena logs an arena transition ("make" or "finalize").
func (l *Logger) LogArena(ctx context.Context, op string, fd int, size int64, blobs int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "arena "+op+" failed",
			"fd", fd,
			"size", size,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "arena "+op+" completed",
			"fd", fd,
			"size", size,
			"blobs", blobs,
		)
	}
}

// LogSpill logs a spill or reload.
func (l *Logger) LogSpill(ctx context.Context, op, id string, size, stored int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"id", id,
			"size", size,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, op+" completed",
			"id", id,
			"size", size,
			"stored", stored,
		)
	}
}

// LogEvict logs an eviction pass.
func (l *Logger) LogEvict(ctx context.Context, requested, freed int64, blobs int, err error) {
	if err != nil {
		l.WarnContext(ctx, "evict completed with failures",
			"requested", requested,
			"freed", freed,
			"blobs", blobs,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "evict completed",
			"requested", requested,
			"freed", freed,
			"blobs", blobs,
		)
	}
}
