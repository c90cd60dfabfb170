package clips

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/tildemin3/clips-core/bload"
)

// Logger wraps slog.Logger with environment-specific context.
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
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithImage adds the image name to the logger.
func (l *Logger) WithImage(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("image", name),
	}
}

// LogLoad logs a load attempt that did not reach the segments, or one
// that succeeded.
func (l *Logger) LogLoad(ctx context.Context, name string, img *bload.Image, duration time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "image load failed",
			"image", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "image loaded",
		"image", name,
		"load_id", img.LoadID.String(),
		"digest", img.Digest.String(),
		"deffunctions", len(img.Deffunctions),
		"defglobals", len(img.Defglobals),
		"duration", duration,
	)
}

// LogAbort logs a load that was rolled back.
func (l *Logger) LogAbort(ctx context.Context, name string, err error) {
	l.WarnContext(ctx, "image load aborted",
		"image", name,
		"error", err,
	)
}

// LogUnload logs an unload attempt.
func (l *Logger) LogUnload(ctx context.Context, img *bload.Image, err error) {
	if err != nil {
		l.WarnContext(ctx, "image unload refused",
			"error", err,
		)
		return
	}
	if img == nil {
		return
	}
	l.InfoContext(ctx, "image unloaded",
		"load_id", img.LoadID.String(),
		"digest", img.Digest.String(),
	)
}

// LogSave logs a save operation.
func (l *Logger) LogSave(ctx context.Context, name string, digest string, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "image save failed",
			"image", name,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "image saved",
		"image", name,
		"digest", digest,
		"bytes", bytes,
	)
}
