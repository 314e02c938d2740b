// Package xlog is a small file-backed logger used throughout the wallet
// core. It is modeled on rivine's persist.Logger: a standard library
// *log.Logger writing to a file (optionally teed to stdout), stamped with
// a STARTUP/SHUTDOWN banner so operators can find restart boundaries in a
// long-lived log file.
package xlog

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// Logger wraps the standard library logger with a few severity-tagged
// helpers and a Close method that writes a shutdown banner.
type Logger struct {
	*log.Logger
	closeFn func() error
}

// New creates a logger that writes to w. Use NewFileLogger for the common
// case of logging to a named file on disk.
func New(w io.Writer, prefix string) *Logger {
	l := &Logger{
		Logger:  log.New(w, prefix, log.Ldate|log.Ltime|log.Lmicroseconds|log.Lshortfile|log.LUTC),
		closeFn: func() error { return nil },
	}
	l.Println("STARTUP: Log created at", time.Now().Format(time.RFC3339))
	return l
}

// NewFileLogger creates a logger that appends to (or creates) the named
// file. When tee is true, log lines are also written to os.Stdout.
func NewFileLogger(filename string, tee bool) (*Logger, error) {
	f, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("xlog: unable to open log file: %w", err)
	}
	var w io.Writer = f
	if tee {
		w = io.MultiWriter(f, os.Stdout)
	}
	l := New(w, "")
	l.closeFn = f.Close
	return l, nil
}

// Debugln logs a debug-level line. It never panics regardless of build
// mode; it exists purely to make call sites self-documenting.
func (l *Logger) Debugln(v ...interface{}) {
	l.Output(2, "[DEBUG] "+fmt.Sprintln(v...))
}

// Severe logs a severe-level line: something that indicates a bug but is
// not immediately fatal to the running process.
func (l *Logger) Severe(v ...interface{}) {
	l.Output(2, "[SEVERE] "+fmt.Sprintln(v...))
}

// Critical logs a critical-level line: an unrecoverable internal
// consistency violation.
func (l *Logger) Critical(v ...interface{}) {
	l.Output(2, "[CRITICAL] "+fmt.Sprintln(v...))
}

// Close writes a shutdown banner and closes the underlying file, if any.
func (l *Logger) Close() error {
	l.Println("SHUTDOWN: Log closing at", time.Now().Format(time.RFC3339))
	return l.closeFn()
}
