// Package logging wraps slog with the contextual fields the engine threads
// through a run: run id, node id, webhook event id.
package logging

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Logger wraps slog.Logger with contextual helpers.
type Logger struct {
	*slog.Logger
}

// New creates a new logger. format "json" uses slog's JSON handler (production);
// anything else uses tint's colorized handler (development).
func New(level, format string) *Logger {
	var handler slog.Handler
	lvl := parseLevel(level)

	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithRunID adds run_id to the logger context.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{Logger: l.With("run_id", runID)}
}

// WithNodeID adds node_id to the logger context.
func (l *Logger) WithNodeID(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

// WithWebhookEvent adds webhook_event_id to the logger context.
func (l *Logger) WithWebhookEvent(eventID string) *Logger {
	return &Logger{Logger: l.With("webhook_event_id", eventID)}
}

// WithContext pulls a trace id out of ctx, if present.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok && traceID != "" {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

type traceIDKey struct{}

// WithTraceID stores a trace id on the context for WithContext to pick up.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func parseLevel(level string) slog.Level {
	switch level {
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
