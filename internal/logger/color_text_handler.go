package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Attribute keys the writer attaches to its log records. The color handler
// lifts them out of the key=value tail into a "[class#id seq N]" prefix.
const (
	AttrStreamClass = "stream_class"
	AttrStreamID    = "stream_id"
	AttrPacketSeq   = "packet_seq"
)

const (
	colorReset = "\033[0m"
	colorScope = "\033[35m"
)

// output is shared by a handler and every handler derived from it.
type output struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

// ColorTextHandler prints a colored level and the stream a record belongs
// to, followed by the record in slog text format.
type ColorTextHandler struct {
	inner    slog.Handler
	out      *output
	showTime bool

	streamClass string
	streamID    string
	grouped     bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, showTime bool) *ColorTextHandler {
	o := &output{w: w}
	var ho slog.HandlerOptions
	if opts != nil {
		ho = *opts
	}
	replace := ho.ReplaceAttr
	ho.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) == 0 && a.Key == slog.LevelKey {
			return slog.Attr{}
		}
		if replace != nil {
			return replace(groups, a)
		}
		return a
	}
	return &ColorTextHandler{
		inner:    slog.NewTextHandler(&o.buf, &ho),
		out:      o,
		showTime: showTime,
	}
}

func (h *ColorTextHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	var rest []slog.Attr
	for _, a := range attrs {
		if !h.grouped {
			switch a.Key {
			case AttrStreamClass:
				c.streamClass = a.Value.String()
				continue
			case AttrStreamID:
				c.streamID = a.Value.String()
				continue
			}
		}
		rest = append(rest, a)
	}
	if len(rest) > 0 {
		c.inner = h.inner.WithAttrs(rest)
	}
	return &c
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	c := *h
	c.inner = h.inner.WithGroup(name)
	c.grouped = true
	return &c
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	t := r.Time
	if !h.showTime {
		t = time.Time{}
	}
	rec := slog.NewRecord(t, r.Level, r.Message, r.PC)
	seq := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == AttrPacketSeq && !h.grouped {
			seq = a.Value.String()
			return true
		}
		rec.AddAttrs(a)
		return true
	})

	var prefix strings.Builder
	prefix.WriteString(levelColor(r.Level) + r.Level.String() + colorReset + " ")
	if scope := h.scope(seq); scope != "" {
		prefix.WriteString(colorScope + "[" + scope + "]" + colorReset + " ")
	}

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	h.out.buf.Reset()
	if err := h.inner.Handle(ctx, rec); err != nil {
		return err
	}
	_, err := io.WriteString(h.out.w, prefix.String()+h.out.buf.String())
	return err
}

func (h *ColorTextHandler) scope(seq string) string {
	var parts []string
	if h.streamClass != "" {
		s := h.streamClass
		if h.streamID != "" {
			s += "#" + h.streamID
		}
		parts = append(parts, s)
	}
	if seq != "" {
		parts = append(parts, "seq "+seq)
	}
	return strings.Join(parts, " ")
}

func levelColor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "\033[31m"
	case l >= slog.LevelWarn:
		return "\033[33m"
	case l >= slog.LevelInfo:
		return "\033[32m"
	default:
		return "\033[36m"
	}
}
