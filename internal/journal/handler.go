package journal

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"
)

// lineHandler is a slog handler that writes one flat JSON object per record.
// The level and message are omitted; "time" is RFC 3339 in UTC and every attribute
// is written at the top level.
type lineHandler struct {
	out   io.Writer
	attrs []slog.Attr
}

func newLineHandler(out io.Writer) *lineHandler {
	return &lineHandler{out: out}
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	fields := make(map[string]any, r.NumAttrs()+len(h.attrs)+1)
	fields["time"] = r.Time.UTC().Format(time.RFC3339)

	add := func(a slog.Attr) bool {
		if a.Key != "" && a.Value.Any() != nil {
			fields[a.Key] = a.Value.Resolve().Any()
		}
		return true
	}
	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(add)

	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	_, err = h.out.Write(append(data, '\n'))
	return err
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &lineHandler{out: h.out, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
}

// WithGroup is a no-op: journal lines are flat.
func (h *lineHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *lineHandler) Enabled(context.Context, slog.Level) bool {
	return true
}
