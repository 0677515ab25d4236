package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"grimm.is/warden/internal/brand"
)

// ConsoleHandler is a slog.Handler that writes syslog-style lines:
//
//	2025-06-15T12:00:00Z warden[4242]: [info] firewall: started key=value
//
// Every record is also appended to the Recent buffer.
type ConsoleHandler struct {
	opts  slog.HandlerOptions
	out   io.Writer
	mu    *sync.Mutex
	attrs []slog.Attr
}

// NewConsoleHandler creates a new ConsoleHandler.
func NewConsoleHandler(out io.Writer, opts *slog.HandlerOptions) *ConsoleHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &ConsoleHandler{
		out:  out,
		opts: *opts,
		mu:   &sync.Mutex{},
	}
}

// Enabled reports whether the handler is enabled for this level.
func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	floor := slog.LevelInfo
	if h.opts.Level != nil {
		floor = h.opts.Level.Level()
	}
	return level >= floor
}

// Handle formats and writes the record.
func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}

	component := ""
	fields := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	collect := func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToLower(a.Value.String())
			return true
		}
		fields = append(fields, a)
		return true
	}
	for _, a := range h.attrs {
		collect(a)
	}
	r.Attrs(collect)

	buf := make([]byte, 0, 256)
	buf = append(buf, t.Format(time.RFC3339)...)
	buf = fmt.Appendf(buf, " %s[%d]: [%s] ", brand.LowerName, os.Getpid(), strings.ToLower(r.Level.String()))
	if component != "" {
		buf = append(buf, component...)
		buf = append(buf, ": "...)
	}
	buf = append(buf, r.Message...)
	for _, a := range fields {
		buf = append(buf, ' ')
		buf = appendAttr(buf, a)
	}
	buf = append(buf, '\n')

	h.mu.Lock()
	_, err := h.out.Write(buf)
	h.mu.Unlock()

	extra := make(map[string]string, len(fields))
	for _, a := range fields {
		extra[a.Key] = a.Value.String()
	}
	if component == "" {
		component = "system"
	}
	Recent().Add(Entry{
		Timestamp: t,
		Level:     levelName(r.Level),
		Component: component,
		Message:   r.Message,
		Fields:    extra,
	})

	return err
}

func appendAttr(buf []byte, a slog.Attr) []byte {
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	val := a.Value.String()
	if strings.ContainsAny(val, " \t\n\"") {
		return fmt.Appendf(buf, "%q", val)
	}
	return append(buf, val...)
}

// WithAttrs returns a new handler with the given attributes.
func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ConsoleHandler{
		opts:  h.opts,
		out:   h.out,
		mu:    h.mu,
		attrs: slices.Concat(h.attrs, attrs),
	}
}

// WithGroup is a no-op: console output is flat.
func (h *ConsoleHandler) WithGroup(string) slog.Handler {
	return h
}

func levelName(level slog.Level) string {
	switch {
	case level <= slog.LevelDebug:
		return "debug"
	case level <= slog.LevelInfo:
		return "info"
	case level <= slog.LevelWarn:
		return "warn"
	default:
		return "error"
	}
}
