// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application.
var GlobalLogger *Logger

func init() {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// RepoLogger provides structured logging for repository operations against
// a single collection.
type RepoLogger struct {
	collection string
	logger     *Logger
}

// NewRepoLogger creates a new RepoLogger for the given collection.
func NewRepoLogger(collection string) *RepoLogger {
	return &RepoLogger{collection: collection, logger: GlobalLogger}
}

// LogWrite logs a repository write operation.
func (l *RepoLogger) LogWrite(ctx context.Context, operation string, fields map[string]any) {
	attrs := []any{
		slog.String("collection", l.collection),
		slog.String("operation", operation),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "repository write", attrs...)
}

// LogDropped logs a document skipped during materialization.
func (l *RepoLogger) LogDropped(ctx context.Context, docID, reason string) {
	l.logger.WarnContext(ctx, "malformed document dropped",
		slog.String("collection", l.collection),
		slog.String("doc_id", docID),
		slog.String("reason", reason),
	)
}

// LogError logs a repository failure.
func (l *RepoLogger) LogError(ctx context.Context, operation string, err error) {
	l.logger.ErrorContext(ctx, "repository error",
		slog.String("collection", l.collection),
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
}
