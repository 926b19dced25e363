package localdocs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/hupe1980/localdocs/shard"
)

// Logger wraps slog.Logger with localdocs-specific helpers so operations log
// consistent field names.
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

// NewJSONLogger creates a Logger that writes JSON to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that writes human-readable text to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// ParseLevel parses debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("localdocs: unknown log level %q", s)
	}
}

// WithSession adds a session field to the logger.
func (l *Logger) WithSession(sessionID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("session", sessionID),
	}
}

// WithDocument adds a document field to the logger.
func (l *Logger) WithDocument(documentID string) *Logger {
	return &Logger{
		Logger: l.Logger.With("document", documentID),
	}
}

// LogSearch logs a search operation.
func (l *Logger) LogSearch(ctx context.Context, sessionID, mode string, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed",
			"session", sessionID,
			"mode", mode,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "search completed",
			"session", sessionID,
			"mode", mode,
			"results", results,
		)
	}
}

// LogImport logs a package import.
func (l *Logger) LogImport(ctx context.Context, res shard.ImportResult, err error) {
	switch {
	case err != nil:
		l.ErrorContext(ctx, "import failed",
			"document", res.DocumentID,
			"error", err,
		)
	case res.IndexErr != nil:
		l.WarnContext(ctx, "import completed without ann index",
			"document", res.DocumentID,
			"session", res.SessionID,
			"chunks", res.Chunks,
			"error", res.IndexErr,
		)
	default:
		l.InfoContext(ctx, "import completed",
			"document", res.DocumentID,
			"session", res.SessionID,
			"chunks", res.Chunks,
			"indexed", res.Indexed,
		)
	}
}

// LogDelete logs a document deletion.
func (l *Logger) LogDelete(ctx context.Context, documentID string, artifacts int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed",
			"document", documentID,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "document deleted",
			"document", documentID,
			"artifacts", artifacts,
		)
	}
}
