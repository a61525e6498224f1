package logger

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"strings"
)

// NewStdLogger returns a *log.Logger whose output is routed through l at the
// given slog level. net/http reports accept and handshake errors this way.
func NewStdLogger(l *Logger, level slog.Level) *log.Logger {
	if l == nil {
		l = Global()
	}
	return slog.NewLogLogger(NewSlogHandler(l), level)
}

// NewSlogHandler returns a slog.Handler that writes through l. Attributes are
// appended to the message as key=value, qualified by their group.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogAdapter{log: l}
}

type slogAdapter struct {
	log   *Logger
	group string // dotted prefix for attribute keys
	attrs string // attributes bound by WithAttrs, already formatted
}

func (h *slogAdapter) Enabled(_ context.Context, level slog.Level) bool {
	return toLevel(level) >= h.log.GetLevel()
}

func (h *slogAdapter) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	b.WriteString(h.attrs)
	record.Attrs(func(attr slog.Attr) bool {
		writeAttr(&b, h.group, attr)
		return true
	})
	h.log.log(toLevel(record.Level), "%s", b.String())
	return nil
}

func (h *slogAdapter) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.attrs)
	for _, attr := range attrs {
		writeAttr(&b, h.group, attr)
	}
	return &slogAdapter{log: h.log, group: h.group, attrs: b.String()}
}

func (h *slogAdapter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogAdapter{log: h.log, group: h.group + name + ".", attrs: h.attrs}
}

func toLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

// writeAttr appends " group.key=value", flattening nested groups.
func writeAttr(b *strings.Builder, group string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		prefix := group
		if attr.Key != "" {
			prefix += attr.Key + "."
		}
		for _, nested := range attr.Value.Group() {
			writeAttr(b, prefix, nested)
		}
		return
	}
	fmt.Fprintf(b, " %s%s=%v", group, attr.Key, attr.Value)
}
