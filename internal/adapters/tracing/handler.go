package tracing

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/trace"
)

// Log keys hoisted to the front of console lines.
const (
	LogConversationID = "conversation_id"
	LogMessageID      = "message_id"
)

var levelTags = map[slog.Level]string{
	slog.LevelDebug: "DBG",
	slog.LevelInfo:  "INF",
	slog.LevelWarn:  "WRN",
	slog.LevelError: "ERR",
}

// consoleHandler writes one line per record:
//
//	15:04:05 INF completion started conv=conv_1 msg=msg_2 model=qwen trace=4bf92f35
//
// Conversation and message ids come right after the message so streams of
// the same conversation line up when grepping. The trace id is taken from
// the span in the record's context.
type consoleHandler struct {
	level  slog.Leveler
	mu     *sync.Mutex
	w      io.Writer
	conv   string
	msg    string
	attrs  []byte
	prefix string
}

func NewConsoleHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return &consoleHandler{level: level, mu: &sync.Mutex{}, w: w}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	conv, msg := h.conv, h.msg
	var rest []byte
	r.Attrs(func(a slog.Attr) bool {
		switch {
		case h.prefix == "" && a.Key == LogConversationID:
			conv = a.Value.String()
		case h.prefix == "" && a.Key == LogMessageID:
			msg = a.Value.String()
		default:
			rest = appendAttr(rest, h.prefix, a)
		}
		return true
	})

	buf := make([]byte, 0, 160)
	buf = r.Time.AppendFormat(buf, "15:04:05")
	buf = append(buf, ' ')
	buf = append(buf, levelTag(r.Level)...)
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	if conv != "" {
		buf = append(buf, " conv="...)
		buf = append(buf, conv...)
	}
	if msg != "" {
		buf = append(buf, " msg="...)
		buf = append(buf, msg...)
	}
	buf = append(buf, h.attrs...)
	buf = append(buf, rest...)
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		buf = append(buf, " trace="...)
		buf = append(buf, sc.TraceID().String()[:8]...)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func levelTag(l slog.Level) string {
	if tag, ok := levelTags[l]; ok {
		return tag
	}
	return l.String()
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		p := a.Key
		if prefix != "" {
			p = prefix + "." + a.Key
		}
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, p, ga)
		}
		return buf
	}
	buf = append(buf, ' ')
	if prefix != "" {
		buf = append(buf, prefix...)
		buf = append(buf, '.')
	}
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return append(buf, a.Value.Resolve().String()...)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]byte(nil), h.attrs...)
	for _, a := range attrs {
		switch {
		case h.prefix == "" && a.Key == LogConversationID:
			next.conv = a.Value.String()
		case h.prefix == "" && a.Key == LogMessageID:
			next.msg = a.Value.String()
		default:
			next.attrs = appendAttr(next.attrs, h.prefix, a)
		}
	}
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.prefix != "" {
		next.prefix = h.prefix + "." + name
	} else {
		next.prefix = name
	}
	return &next
}
