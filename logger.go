package spoon

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/bioc/spoon/gp"
)

// Logger wraps slog.Logger with spoon-specific context.
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

// WithEntity adds an entity index field to the logger.
func (l *Logger) WithEntity(entity int) *Logger {
	return &Logger{
		Logger: l.Logger.With("entity", entity),
	}
}

// WithK adds a k (neighbor count) field to the logger.
func (l *Logger) WithK(k int) *Logger {
	return &Logger{
		Logger: l.Logger.With("k", k),
	}
}

// LogFit logs a single entity fit.
func (l *Logger) LogFit(ctx context.Context, entity int, converged bool, duration time.Duration, err error) {
	switch {
	case err != nil && !errors.Is(err, gp.ErrFitDivergence):
		l.ErrorContext(ctx, "entity fit failed",
			"entity", entity,
			"error", err,
		)
	case !converged:
		l.DebugContext(ctx, "entity fit flagged",
			"entity", entity,
			"duration", duration,
		)
	default:
		l.DebugContext(ctx, "entity fit completed",
			"entity", entity,
			"duration", duration,
		)
	}
}

// LogTrend logs the trend estimation step.
func (l *Logger) LogTrend(ctx context.Context, points int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "trend fit failed",
			"points", points,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "trend fit completed",
			"points", points,
		)
	}
}

// LogRun logs a completed pipeline run.
func (l *Logger) LogRun(ctx context.Context, entities, locations, converged, flagged int, duration time.Duration) {
	if flagged > 0 {
		l.WarnContext(ctx, "run completed with flagged entities",
			"entities", entities,
			"locations", locations,
			"converged", converged,
			"flagged", flagged,
			"duration", duration,
		)
	} else {
		l.InfoContext(ctx, "run completed",
			"entities", entities,
			"locations", locations,
			"converged", converged,
			"duration", duration,
		)
	}
}

// LogProgress logs fan-out progress during the parallel fit phase.
func (l *Logger) LogProgress(ctx context.Context, completed, total int) {
	l.InfoContext(ctx, "fitting entities",
		"completed", completed,
		"total", total,
	)
}
