// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// New returns a leveled structured logger writing to w (stderr when nil).
// level is one of debug, info, warn, error; format is text or json.
func New(w io.Writer, level, format string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}

	lvl, err := log.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = log.InfoLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		ReportCaller:    lvl == log.DebugLevel,
	})
	if strings.EqualFold(format, "json") {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *log.Logger {
	return log.New(io.Discard)
}
