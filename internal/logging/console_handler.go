package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
)

// consoleHandler renders records as single human-readable lines:
//
//	15:04:05 INFO  stage completed item_id=a1b2 stage=download duration=1.2s
type consoleHandler struct {
	writer io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func newConsoleHandler(writer io.Writer, level slog.Leveler) *consoleHandler {
	return &consoleHandler{writer: writer, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	if !record.Time.IsZero() {
		sb.WriteString(record.Time.Format(time.TimeOnly))
		sb.WriteByte(' ')
	}
	sb.WriteString(fmt.Sprintf("%-5s ", record.Level.String()))
	sb.WriteString(record.Message)

	for _, attr := range h.attrs {
		h.appendAttr(&sb, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		h.appendAttr(&sb, attr)
		return true
	})
	sb.WriteByte('\n')

	_, err := io.WriteString(h.writer, sb.String())
	return err
}

func (h *consoleHandler) appendAttr(sb *strings.Builder, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	key := attr.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	value := attr.Value.String()
	if strings.ContainsAny(value, " \t\"") {
		value = fmt.Sprintf("%q", value)
	}
	fmt.Fprintf(sb, " %s=%s", key, value)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)
	return &clone
}
