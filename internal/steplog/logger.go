package steplog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Logger is a slog.Logger with step-boundary helpers.
type Logger struct {
	*slog.Logger
}

// New wraps h in a Logger.
func New(h slog.Handler) *Logger {
	return &Logger{Logger: slog.New(h)}
}

// Discard returns a Logger that drops every record.
func Discard() *Logger {
	return New(slog.NewTextHandler(io.Discard, nil))
}

// Step logs a step-boundary event at info level.
func (l *Logger) Step(step, msg string, args ...any) {
	l.Info(StepMessage(step, msg), args...)
}

// StepMessage formats msg as a step-boundary message.
func StepMessage(step, msg string) string {
	return fmt.Sprintf("[STEP: %s] %s", strings.ToUpper(step), msg)
}

// With returns a Logger that adds args to every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// OpenFile opens path for appending, creating it and its directory as
// needed. The caller owns the returned file.
func OpenFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

// Fanout sends each record to every handler that accepts its level.
type Fanout []slog.Handler

func (f Fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f Fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f Fanout) WithGroup(name string) slog.Handler {
	out := make(Fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
