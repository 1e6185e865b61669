// Package logs implements a small leveled, subsystem-tagged logging
// backend in the style of the teacher's own (first-party) logging
// library: a shared Backend fans formatted lines out to one or more
// BackendWriters, and each subsystem gets its own *Logger with an
// independently adjustable Level.
package logs

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Level is a logging level.
type Level uint32

// Supported log levels, ordered from most to least verbose.
const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelCritical
	LevelOff
)

var levelStrings = map[Level]string{
	LevelTrace:    "TRC",
	LevelDebug:    "DBG",
	LevelInfo:     "INF",
	LevelWarn:     "WRN",
	LevelError:    "ERR",
	LevelCritical: "CRT",
	LevelOff:      "OFF",
}

// String returns the short, fixed-width representation of the level.
func (l Level) String() string {
	if s, ok := levelStrings[l]; ok {
		return s
	}
	return "UNK"
}

// LevelFromString parses a level name (an exact, lowercase match against
// trace/debug/info/warn/error/critical/off) and reports whether it was
// recognized. Unrecognized names default to LevelInfo.
func LevelFromString(s string) (Level, bool) {
	switch s {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn":
		return LevelWarn, true
	case "error":
		return LevelError, true
	case "critical":
		return LevelCritical, true
	case "off":
		return LevelOff, true
	}
	return LevelInfo, false
}

// BackendWriter is an io.Writer that is only invoked for log lines at or
// above a minimum level.
type BackendWriter struct {
	w        io.Writer
	minLevel Level
}

// NewAllLevelsBackendWriter returns a BackendWriter that receives every
// log line regardless of level.
func NewAllLevelsBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelTrace}
}

// NewErrorBackendWriter returns a BackendWriter that only receives log
// lines at LevelError or above.
func NewErrorBackendWriter(w io.Writer) *BackendWriter {
	return &BackendWriter{w: w, minLevel: LevelError}
}

// Backend is the shared fan-out point for all subsystem loggers created
// from it.
type Backend struct {
	writers []*BackendWriter
	mu      sync.Mutex
}

// NewBackend creates a logging backend that writes to the given set of
// BackendWriters.
func NewBackend(writers []*BackendWriter) *Backend {
	return &Backend{writers: writers}
}

// Logger creates a new subsystem logger backed by b, tagged with the
// given subsystem identifier (conventionally a 4-character uppercase
// tag, e.g. "KVST").
func (b *Backend) Logger(subsystem string) *Logger {
	l := &Logger{backend: b, subsystem: subsystem}
	l.level.Store(uint32(LevelInfo))
	return l
}

func (b *Backend) write(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, w := range b.writers {
		io.WriteString(w.w, line)
	}
}

// Close flushes and closes every writer that implements io.Closer.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, w := range b.writers {
		if c, ok := w.w.(io.Closer); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Logger is a per-subsystem leveled logger.
type Logger struct {
	backend   *Backend
	subsystem string
	level     atomic.Uint32
}

// Level returns the logger's current level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// SetLevel sets the logger's level; log calls below this level are
// suppressed without formatting their arguments.
func (l *Logger) SetLevel(level Level) {
	l.level.Store(uint32(level))
}

// Backend returns the logger's backend, primarily so callers can flush
// or close it on shutdown.
func (l *Logger) Backend() *Backend {
	return l.backend
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	line := fmt.Sprintf("%s [%s] %s %s\n",
		time.Now().Format("2006-01-02 15:04:05.000"),
		level, l.subsystem, msg)
	l.backend.write(line)
}

// Tracef logs at LevelTrace.
func (l *Logger) Tracef(format string, args ...interface{}) { l.log(LevelTrace, format, args...) }

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...interface{}) { l.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...interface{}) { l.log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Criticalf logs at LevelCritical.
func (l *Logger) Criticalf(format string, args ...interface{}) {
	l.log(LevelCritical, format, args...)
}
