// Package logger provides the engine's structured logging setup: a thin
// wrapper around log/slog that colorizes level-appropriate console output
// and highlights a handful of operationally significant phrases.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorGray   = "\033[90m"
)

// highlightPhrases are substrings that, when present in an Info-level
// message, are rendered in green regardless of handler level coloring.
// These mark graph-persistence milestones that are useful to scan for.
var highlightPhrases = []string{
	"persist", "Persist", "consolidat", "Consolidat",
}

// colorHandler wraps an slog.Handler, coloring the rendered line by level.
type colorHandler struct {
	next  slog.Handler
	out   io.Writer
	color bool
}

// NewDefaultLogger returns a colorized slog.Logger writing text-formatted
// records to stderr at the given minimum level.
func NewDefaultLogger(level slog.Leveler) *slog.Logger {
	return New(os.Stderr, level, true)
}

// New builds an slog.Logger writing to w. color disables ANSI escapes
// when false (e.g. when output is not a terminal).
func New(w io.Writer, level slog.Leveler, color bool) *slog.Logger {
	base := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(&colorHandler{next: base, out: w, color: color})
}

// NewJSON builds a plain JSON slog.Logger, used when structured log
// shipping (rather than console readability) is the priority.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

func (h *colorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *colorHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.color {
		return h.next.Handle(ctx, r)
	}

	color := colorGray
	switch {
	case r.Level >= slog.LevelError:
		color = colorRed
	case r.Level >= slog.LevelWarn:
		color = colorYellow
	case r.Level >= slog.LevelInfo:
		if containsAny(r.Message, highlightPhrases) {
			color = colorGreen
		}
	}

	io.WriteString(h.out, color)
	err := h.next.Handle(ctx, r)
	io.WriteString(h.out, colorReset)
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &colorHandler{next: h.next.WithAttrs(attrs), out: h.out, color: h.color}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	return &colorHandler{next: h.next.WithGroup(name), out: h.out, color: h.color}
}

func containsAny(s string, substrs []string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
