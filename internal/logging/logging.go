// Package logging builds the component loggers used across autobuild.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
)

// Options configures a logger.
type Options struct {
	Verbose         bool
	ReportTimestamp bool
}

// New returns a root logger writing to w.
func New(w io.Writer, opts Options) *log.Logger {
	level := log.InfoLevel
	if opts.Verbose {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: opts.ReportTimestamp,
		Prefix:          "autobuild",
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}

// Component returns a child logger tagged with a component prefix.
// A nil parent yields a discarding logger.
func Component(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		return Discard()
	}
	return parent.WithPrefix(name)
}

// FileName is the log file inside <autoBuildDir>/logs.
const FileName = "autobuild.log"

// OpenFile opens the project log file for appending.
func OpenFile(projectDir, autoBuildDir string) (*os.File, error) {
	dir := filepath.Join(projectDir, autoBuildDir, "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, FileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
