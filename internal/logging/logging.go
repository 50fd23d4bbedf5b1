// Package logging builds the service logger on top of charmbracelet/log.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// Logger is a wrapper around the log.Logger from the charmbracelet/log package.
type Logger struct {
	*log.Logger
}

// New creates a logger writing to stderr. level is one of debug, info, warn,
// error; format is "text", "json" or "logfmt".
func New(prefix, level, format string) *Logger {
	return NewWithWriter(os.Stderr, prefix, level, format)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, prefix, level, format string) *Logger {
	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	opts := log.Options{
		ReportTimestamp: true,
		Prefix:          prefix,
		Level:           lvl,
	}
	switch strings.ToLower(format) {
	case "json":
		opts.Formatter = log.JSONFormatter
	case "logfmt":
		opts.Formatter = log.LogfmtFormatter
	default:
		opts.Formatter = log.TextFormatter
	}

	return &Logger{Logger: log.NewWithOptions(w, opts)}
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	return NewWithWriter(io.Discard, "", "error", "text")
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{Logger: l.With("component", name)}
}
