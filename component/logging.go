package component

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// defaultLogSubjectPrefix is the subject root component log entries are
// published under. The component name becomes the final token.
const defaultLogSubjectPrefix = "ami.logs"

// LogEntry is the wire form of one log record published to NATS.
type LogEntry struct {
	Timestamp string         `json:"timestamp"` // RFC3339 format
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// NATSHandler is a slog.Handler that forwards every record to an inner
// handler and additionally publishes it to ami.logs.<component> so
// operators can tail component logs over the bus without host access.
//
// Publishing is best effort. A nil connection disables the fan-out and
// the handler degrades to a transparent wrapper, which is what unit
// tests and early boot get.
type NATSHandler struct {
	inner     slog.Handler
	conn      *nats.Conn
	prefix    string
	component string
	attrs     []slog.Attr
	groups    []string
}

// NewNATSHandler wraps inner with NATS log fan-out. The component
// subject token is taken from the "component" attribute added with
// Logger.With, falling back to "gateway".
func NewNATSHandler(inner slog.Handler, conn *nats.Conn) *NATSHandler {
	return &NATSHandler{
		inner:     inner,
		conn:      conn,
		prefix:    defaultLogSubjectPrefix,
		component: "gateway",
	}
}

// Enabled reports whether the inner handler handles records at the
// given level. The fan-out never widens the level.
func (h *NATSHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// WithAttrs returns a handler whose records carry the given attributes.
// A "component" attribute additionally selects the publish subject.
func (h *NATSHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.inner = h.inner.WithAttrs(attrs)
	for _, a := range attrs {
		if a.Key == "component" && len(h.groups) == 0 {
			nh.component = a.Value.String()
			continue
		}
		nh.attrs = append(nh.attrs, h.qualify(a))
	}
	return nh
}

// WithGroup returns a handler that qualifies subsequent attribute keys
// with the group name.
func (h *NATSHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.inner = h.inner.WithGroup(name)
	nh.groups = append(nh.groups, name)
	return nh
}

// Handle forwards the record to the inner handler, then publishes it.
func (h *NATSHandler) Handle(ctx context.Context, r slog.Record) error {
	err := h.inner.Handle(ctx, r)

	if h.conn == nil {
		return err
	}

	entry := LogEntry{
		Timestamp: r.Time.UTC().Format(time.RFC3339Nano),
		Level:     r.Level.String(),
		Component: h.component,
		Message:   r.Message,
	}

	if len(h.attrs) > 0 || r.NumAttrs() > 0 {
		entry.Attrs = make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			entry.Attrs[a.Key] = attrValue(a.Value)
		}
		r.Attrs(func(a slog.Attr) bool {
			entry.Attrs[h.qualify(a).Key] = attrValue(a.Value)
			return true
		})
	}

	data, marshalErr := json.Marshal(entry)
	if marshalErr != nil {
		return err
	}

	// Publish failures are dropped. The record already reached the
	// inner handler and the bus must never block logging.
	_ = h.conn.Publish(h.subject(), data)

	return err
}

// subject builds the publish subject from the component name, mapping
// characters NATS treats as token separators or wildcards.
func (h *NATSHandler) subject() string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '\t', '*', '>':
			return '_'
		default:
			return r
		}
	}, h.component)
	if token == "" {
		token = "gateway"
	}
	return h.prefix + "." + token
}

// qualify prefixes the attribute key with the open group path.
func (h *NATSHandler) qualify(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	return slog.Attr{
		Key:   strings.Join(h.groups, ".") + "." + a.Key,
		Value: a.Value,
	}
}

func (h *NATSHandler) clone() *NATSHandler {
	nh := *h
	nh.attrs = append([]slog.Attr(nil), h.attrs...)
	nh.groups = append([]string(nil), h.groups...)
	return &nh
}

// attrValue resolves a slog value into something json.Marshal accepts.
func attrValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := make(map[string]any, len(v.Group()))
		for _, a := range v.Group() {
			group[a.Key] = attrValue(a.Value)
		}
		return group
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339Nano)
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
