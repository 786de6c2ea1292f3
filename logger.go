package sparsecount

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with sparsecount-specific context.
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
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithFacetField adds the facet field name to the logger.
func (l *Logger) WithFacetField(field string) *Logger {
	return &Logger{
		Logger: l.Logger.With("field", field),
	}
}

// WithTopK adds a topK field to the logger.
func (l *Logger) WithTopK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("topK", k),
	}
}

// LogCount logs a facet counting operation.
func (l *Logger) LogCount(ctx context.Context, field string, hits, terms int, sparse bool, err error) {
	if err != nil {
		l.ErrorContext(ctx, "facet count failed",
			"field", field,
			"hits", hits,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "facet count completed",
			"field", field,
			"hits", hits,
			"terms", terms,
			"sparse", sparse,
		)
	}
}

// LogRegisterField logs the registration of a field's maxima.
func (l *Logger) LogRegisterField(ctx context.Context, field string, uniqueValues int, maxCountForAny uint64) {
	l.InfoContext(ctx, "field registered",
		"field", field,
		"unique_values", uniqueValues,
		"max_count_for_any", maxCountForAny,
	)
}

// LogCacheHit logs a content-token cache hit during acquire.
func (l *Logger) LogCacheHit(ctx context.Context, field, token string) {
	l.DebugContext(ctx, "facet counter cache hit",
		"field", field,
		"token", token,
	)
}
