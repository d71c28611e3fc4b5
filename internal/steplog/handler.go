// Package steplog writes the append-only deployment log: one line per
// event in the form
//
//	[2006-01-02 15:04:05] [LEVEL] message {"json":"context"}
//
// Step boundaries are logged through Logger.Step, which prefixes the
// message with "[STEP: NAME]".
package steplog

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"time"
)

// TimeFormat is the timestamp layout of every log line.
const TimeFormat = "2006-01-02 15:04:05"

// Handler is a slog.Handler producing step log lines. Handlers derived via
// WithAttrs and WithGroup share the parent's writer and lock, so each line
// reaches the writer in a single Write call.
type Handler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group []string
	now   func() time.Time
}

// NewHandler returns a Handler writing to w at or above level.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{mu: &sync.Mutex{}, w: w, level: level, now: time.Now}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time
	if ts.IsZero() {
		ts = h.now()
	}

	fields := make(map[string]any)
	for _, a := range h.attrs {
		addAttr(fields, nil, a) // already nested by WithAttrs
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, h.group, a)
		return true
	})

	var buf bytes.Buffer
	buf.WriteByte('[')
	buf.WriteString(ts.Format(TimeFormat))
	buf.WriteString("] [")
	buf.WriteString(levelName(r.Level))
	buf.WriteString("] ")
	buf.WriteString(r.Message)
	if len(fields) > 0 {
		data, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		buf.WriteByte(' ')
		buf.Write(data)
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	h2.attrs = append(h2.attrs, h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, nest(h.group, a))
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = append(append([]string(nil), h.group...), name)
	return &h2
}

// nest wraps a in the open groups so that attributes bound before a later
// WithGroup keep their original position.
func nest(groups []string, a slog.Attr) slog.Attr {
	for i := len(groups) - 1; i >= 0; i-- {
		a = slog.Attr{Key: groups[i], Value: slog.GroupValue(a)}
	}
	return a
}

func addAttr(dst map[string]any, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	for _, g := range groups {
		sub, ok := dst[g].(map[string]any)
		if !ok {
			sub = make(map[string]any)
			dst[g] = sub
		}
		dst = sub
	}
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		if len(attrs) == 0 {
			return
		}
		target := dst
		if a.Key != "" {
			sub, ok := dst[a.Key].(map[string]any)
			if !ok {
				sub = make(map[string]any)
				dst[a.Key] = sub
			}
			target = sub
		}
		for _, ga := range attrs {
			addAttr(target, nil, ga)
		}
		return
	}
	dst[a.Key] = value(a.Value)
}

func value(v slog.Value) any {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(TimeFormat)
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return v.Any()
	default:
		return v.Any()
	}
}

func levelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARNING"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
