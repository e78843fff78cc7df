// file: internal/logging/logger.go
// version: 1.0.0
// guid: 8f3b2d71-0a6c-4e5d-9b8a-1c4f7e2d6a93

// Package logging wraps the process-wide structured logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Options configures Init.
type Options struct {
	Level string // debug, info, warn, error
	File  string // empty logs to stderr
	JSON  bool
}

var (
	mu      sync.Mutex
	logger  = newLogger(os.Stderr, log.InfoLevel, false)
	logFile *os.File
)

func newLogger(w io.Writer, level log.Level, json bool) *log.Logger {
	opts := log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	}
	if json {
		opts.Formatter = log.JSONFormatter
	}
	return log.NewWithOptions(w, opts)
}

// Init replaces the global logger. It may be called more than once.
func Init(opts Options) error {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(opts.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	var w io.Writer = os.Stderr
	var f *os.File
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return fmt.Errorf("failed to create log directory: %w", err)
		}
		var err error
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		w = f
	}

	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
	}
	logFile = f
	logger = newLogger(w, level, opts.JSON)
	return nil
}

// SetOutput redirects the global logger, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger.SetOutput(w)
}

// Close flushes and closes the log file if one is open.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
		logger.SetOutput(os.Stderr)
	}
}

// Default returns the global logger.
func Default() *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// WithPrefix returns a component logger.
func WithPrefix(prefix string) *log.Logger {
	return Default().WithPrefix(prefix)
}

// Info logs an info message
func Info(msg string, keyvals ...any) { Default().Info(msg, keyvals...) }

// Debug logs a debug message
func Debug(msg string, keyvals ...any) { Default().Debug(msg, keyvals...) }

// Warn logs a warning message
func Warn(msg string, keyvals ...any) { Default().Warn(msg, keyvals...) }

// Error logs an error message
func Error(msg string, keyvals ...any) { Default().Error(msg, keyvals...) }
