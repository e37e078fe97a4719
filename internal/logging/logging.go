// Package logging builds the server's structured logger.
//
// It configures [log/slog] with a JSON or text handler, a minimum level and
// the attributes every line carries (service and environment).
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Options controls the logger built by [New].
type Options struct {
	Level       string
	Format      string
	Service     string
	Environment string
}

// New creates a [slog.Logger] that writes to stderr.
func New(opts Options) *slog.Logger {
	return NewWithWriter(opts, os.Stderr)
}

// NewWithWriter creates a [slog.Logger] writing to w. Unknown levels fall
// back to info and unknown formats to JSON.
func NewWithWriter(opts Options, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if format, _ := ParseFormat(opts.Format); format == FormatText {
		handler = slog.NewTextHandler(w, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(w, handlerOpts)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	if opts.Environment != "" {
		logger = logger.With(slog.String("environment", opts.Environment))
	}
	return logger
}

// ParseLevel converts a level string to a [slog.Level]. Accepted values
// (case-insensitive) are "debug", "info", "warn", "warning" and "error";
// an empty string means info. ok is false for anything else, in which case
// the level is info.
func ParseLevel(s string) (level slog.Level, ok bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// ParseFormat accepts "json" (the default for an empty string) and "text".
func ParseFormat(s string) (Format, bool) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatText:
		return FormatText, true
	default:
		return FormatJSON, false
	}
}
