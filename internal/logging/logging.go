// Package logging provides a small slog handler with a pretty,
// tty-aware formatter, shaped after the teacher's crex.Handler /
// crex.NewPrettyFormatter so that internal/cli can reconfigure the
// logger the same way cruxd does: SetLevel, SetFormatter, SetStream,
// Flush.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Formatter renders a single log record to bytes.
type Formatter interface {
	Format(r slog.Record, group string) []byte
}

// PrettyFormatter renders level-colored, human-readable lines.
//
// Colors are only emitted when the formatter was created for an
// interactive terminal.
type PrettyFormatter struct {
	color   bool
	verbose bool
}

// NewPrettyFormatter creates a formatter. Pass true when the destination
// stream is a terminal.
func NewPrettyFormatter(tty bool) *PrettyFormatter {
	return &PrettyFormatter{color: tty}
}

// SetVerbose toggles printing of record attributes in addition to the
// message.
func (f *PrettyFormatter) SetVerbose(v bool) { f.verbose = v }

func (f *PrettyFormatter) Format(r slog.Record, group string) []byte {
	var b strings.Builder

	level, color := levelTag(r.Level)
	if f.color {
		fmt.Fprintf(&b, "\x1b[%sm%s\x1b[0m ", color, level)
	} else {
		fmt.Fprintf(&b, "%s ", level)
	}

	if group != "" {
		fmt.Fprintf(&b, "[%s] ", group)
	}

	b.WriteString(r.Message)

	if f.verbose {
		r.Attrs(func(a slog.Attr) bool {
			fmt.Fprintf(&b, " %s=%v", a.Key, a.Value.Any())
			return true
		})
	}

	b.WriteByte('\n')
	return []byte(b.String())
}

func levelTag(l slog.Level) (tag, ansiColor string) {
	switch {
	case l >= slog.LevelError:
		return "ERROR", "31"
	case l >= slog.LevelWarn:
		return "WARN ", "33"
	case l >= slog.LevelInfo:
		return "INFO ", "36"
	default:
		return "DEBUG", "90"
	}
}

// Handler is a reconfigurable slog.Handler: the CLI root command parses
// flags after the logger has already been created (so early startup
// messages are buffered), then calls SetLevel/SetFormatter/SetStream and
// Flush to replay them with final settings.
type Handler struct {
	mu        sync.Mutex
	level     slog.Level
	formatter Formatter
	stream    io.Writer
	group     string
	buffered  []slog.Record
}

// NewHandler creates a handler that buffers records until Flush is
// called, or writes immediately once a stream has been configured.
func NewHandler() *Handler {
	return &Handler{
		level:     slog.LevelInfo,
		formatter: NewPrettyFormatter(false),
		stream:    nil,
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return level >= h.level
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stream == nil {
		h.buffered = append(h.buffered, r)
		return nil
	}
	_, err := h.stream.Write(h.formatter.Format(r, h.group))
	return err
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *Handler) WithGroup(name string) slog.Handler {
	h.mu.Lock()
	defer h.mu.Unlock()
	return &Handler{level: h.level, formatter: h.formatter, stream: h.stream, group: name, buffered: h.buffered}
}

// SetLevel changes the minimum level that will be emitted.
func (h *Handler) SetLevel(level slog.Level) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// SetFormatter swaps the record formatter.
func (h *Handler) SetFormatter(f Formatter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.formatter = f
}

// SetStream sets the destination and, combined with Flush, lets startup
// records accumulated before flags were parsed be replayed in order.
func (h *Handler) SetStream(w io.Writer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stream = w
}

// Flush writes out any records buffered before a stream was configured.
func (h *Handler) Flush() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stream == nil {
		h.stream = os.Stderr
	}
	for _, r := range h.buffered {
		if r.Level >= h.level {
			h.stream.Write(h.formatter.Format(r, h.group))
		}
	}
	h.buffered = nil
}
