// Package observability provides structured logging helpers for Kioku.
//
// It wraps log/slog with trace ID propagation and credential redaction so
// that every log line emitted during a turn carries the trace context.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/bdobrica/Kioku/common/redact"
	"github.com/bdobrica/Kioku/common/trace"
)

// ParseLevel maps "debug", "warn" and "error" to their slog levels; anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Options selects the handler.
type Options struct {
	Level string
	// Format is "json" or "text".
	Format    string
	AddSource bool
}

// NewLogger builds a logger writing to w.
func NewLogger(w io.Writer, opts Options) *slog.Logger {
	hopts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		AddSource:   opts.AddSource,
		ReplaceAttr: redact.ReplaceAttr,
	}
	var handler slog.Handler
	if opts.Format == "json" {
		handler = slog.NewJSONHandler(w, hopts)
	} else {
		handler = slog.NewTextHandler(w, hopts)
	}
	return slog.New(handler)
}

// Setup builds a logger and installs it as the slog default, so package-level
// slog calls share its level, format and redaction. A nil w means stderr,
// which keeps stdout free for chat replies.
func Setup(w io.Writer, opts Options) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	logger := NewLogger(w, opts)
	slog.SetDefault(logger)
	return logger
}

// WithTrace returns a child of base that always includes the trace_id from
// ctx. A nil base means slog.Default().
func WithTrace(ctx context.Context, base *slog.Logger) *slog.Logger {
	if base == nil {
		base = slog.Default()
	}
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		return base
	}
	return base.With("trace_id", traceID)
}
