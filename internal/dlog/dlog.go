// Package dlog sets up the daemon's own structured logging, distinct from
// the per-service output captured by internal/logging (spec §7 "the
// daemon logs and continues").
package dlog

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// ColorTextHandler wraps slog.TextHandler, prefixing each record's message
// with an ANSI-colored level tag. The tag is added whatever w is; the
// writer is not checked for being a terminal.
type ColorTextHandler struct {
	*slog.TextHandler
}

// NewColorTextHandler builds a handler writing to w with opts.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions) *ColorTextHandler {
	return &ColorTextHandler{TextHandler: slog.NewTextHandler(w, opts)}
}

func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	var colorCode string
	switch r.Level {
	case slog.LevelDebug:
		colorCode = "\033[36m" // cyan
	case slog.LevelInfo:
		colorCode = "\033[32m" // green
	case slog.LevelWarn:
		colorCode = "\033[33m" // yellow
	case slog.LevelError:
		colorCode = "\033[31m" // red
	default:
		colorCode = "\033[0m"
	}
	r.Message = colorCode + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

// New builds the daemon's default logger: colorized text to stderr at the
// given level. No package in this module calls it: cmd/ppmd logs through a
// plain slog text handler and cmd/ppm-launcher writes its errors with fmt.
func New(level slog.Level) *slog.Logger {
	h := NewColorTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
