// Package logging is the process-wide diagnostic log. It fronts a
// charmbracelet logger writing to a dated file under ~/.citysense/logs.
// Before Init the helpers discard records, so library code can log
// unconditionally and tests need no setup.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// Logger is the active logger. Init replaces it with one backed by the
// log file; the default swallows everything.
var Logger = log.New(io.Discard)

var logFile *os.File

// Init routes the package helpers to today's log file, creating the
// log directory as needed. With debug set, debug-level records are
// kept; otherwise the file starts at info.
func Init(debug bool) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".citysense", "logs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	name := "citysense-" + time.Now().Format("2006-01-02") + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	logFile = f
	Logger = log.NewWithOptions(f, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Level:           level,
	})
	Logger.Info("citysense started")
	return nil
}

// Close notes shutdown and releases the log file. Safe to call without
// a prior Init.
func Close() {
	Logger.Info("citysense shutting down")
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// Debug logs at debug level with key-value context.
func Debug(msg string, keyvals ...any) { Logger.Debug(msg, keyvals...) }

// Info logs at info level with key-value context.
func Info(msg string, keyvals ...any) { Logger.Info(msg, keyvals...) }

// Warn logs at warn level with key-value context.
func Warn(msg string, keyvals ...any) { Logger.Warn(msg, keyvals...) }

// Error logs at error level with key-value context.
func Error(msg string, keyvals ...any) { Logger.Error(msg, keyvals...) }
