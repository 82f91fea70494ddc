// Package colorlog builds labelled slog loggers that colour the level when
// writing to a terminal. Lines look like:
//
//	INFO [docs] built field path=guide.md field=html
package colorlog

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

var level slog.LevelVar

const (
	reset  = "\033[0m"
	gray   = "\033[90m"
	cyan   = "\033[36m"
	yellow = "\033[33m"
	red    = "\033[31m"
)

// SetLevel changes the minimum level of every logger created by this package.
func SetLevel(l slog.Level) { level.Set(l) }

// ParseLevel maps "debug", "info", "warn" and "error" (any case) to a level.
// Anything else yields slog.LevelInfo.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New returns a logger writing to stderr whose messages carry "[label]".
func New(label string) *slog.Logger {
	return NewWithWriter(label, os.Stderr, isTerminal(os.Stderr))
}

// NewWithWriter is New with an explicit destination and colour choice.
func NewWithWriter(label string, w io.Writer, color bool) *slog.Logger {
	return slog.New(&handler{mu: &sync.Mutex{}, w: w, label: label, color: color})
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

/////////////////////////////////////////////////////////////////////
/////// HANDLER
/////////////////////////////////////////////////////////////////////

type handler struct {
	mu    *sync.Mutex
	w     io.Writer
	label string
	color bool
	group string // dotted prefix applied to later attrs
	pre   string // attrs rendered by WithAttrs
}

func (h *handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= level.Level()
}

func (h *handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	lvl := r.Level.String()
	if h.color {
		lvl = colorFor(r.Level) + lvl + reset
	}
	b.WriteString(lvl)
	b.WriteString(" [")
	b.WriteString(h.label)
	b.WriteString("] ")
	b.WriteString(r.Message)
	b.WriteString(h.pre)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.pre)
	for _, a := range attrs {
		writeAttr(&b, h.group, a)
	}
	h2 := *h
	h2.pre = b.String()
	return &h2
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.group = joinKey(h.group, name)
	return &h2
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = joinKey(prefix, a.Key)
		}
		for _, ga := range a.Value.Group() {
			writeAttr(b, p, ga)
		}
		return
	}
	b.WriteByte(' ')
	b.WriteString(joinKey(prefix, a.Key))
	b.WriteByte('=')
	b.WriteString(quoteIfNeeded(a.Value.String()))
}

func joinKey(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func quoteIfNeeded(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func colorFor(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return red
	case l >= slog.LevelWarn:
		return yellow
	case l >= slog.LevelInfo:
		return cyan
	default:
		return gray
	}
}
