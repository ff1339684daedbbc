// Package logging provides the small structured-ish logger interface used
// throughout CWatcher instead of a third-party logging library — the
// teacher never reaches for one either, preferring a narrow Logger
// interface (see extractor.Logger, the stderrLogger in cmd/crankfire)
// backed by a mutex-guarded writer.
package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Logger is the interface every CWatcher component takes instead of
// reaching for a global logger.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(field string, value interface{}) Logger
}

// writerLogger writes leveled, timestamped lines to an io.Writer guarded
// by a mutex, mirroring cmd/crankfire's stderrLogger/stderrFailureLogger.
type writerLogger struct {
	mu     *sync.Mutex
	w      io.Writer
	fields string
}

// NewStderr returns the default Logger, writing to os.Stderr.
func NewStderr() Logger {
	return &writerLogger{mu: &sync.Mutex{}, w: os.Stderr}
}

// New returns a Logger writing to an arbitrary writer (tests use this with
// a bytes.Buffer).
func New(w io.Writer) Logger {
	return &writerLogger{mu: &sync.Mutex{}, w: w}
}

func (l *writerLogger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format(time.RFC3339)
	if l.fields != "" {
		fmt.Fprintf(l.w, "%s [%s] %s %s\n", ts, level, l.fields, msg)
		return
	}
	fmt.Fprintf(l.w, "%s [%s] %s\n", ts, level, msg)
}

func (l *writerLogger) Infof(format string, args ...interface{})  { l.log("INFO", format, args...) }
func (l *writerLogger) Warnf(format string, args ...interface{})  { l.log("WARN", format, args...) }
func (l *writerLogger) Errorf(format string, args ...interface{}) { l.log("ERROR", format, args...) }

func (l *writerLogger) With(field string, value interface{}) Logger {
	next := l.fields
	if next != "" {
		next += " "
	}
	next += fmt.Sprintf("%s=%v", field, value)
	return &writerLogger{mu: l.mu, w: l.w, fields: next}
}

// Noop discards every message; used in tests that don't care about logs.
func Noop() Logger { return noopLogger{} }

type noopLogger struct{}

func (noopLogger) Infof(string, ...interface{})       {}
func (noopLogger) Warnf(string, ...interface{})       {}
func (noopLogger) Errorf(string, ...interface{})      {}
func (noopLogger) With(string, interface{}) Logger    { return noopLogger{} }
