// Package logging provides the leveled logging interface used throughout
// the engine.
//
// Log format: YYYY/MM/DD HH:MM:SS LEVEL [component] message
//
// Example: 2026/07/30 18:45:13 INFO [flush] flushed table 000042
//
// Component namespace prefixes: [flush], [compact], [gc], [manifest],
// [recovery].
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"reflect"
	"sync/atomic"
)

// FatalHandler is called when Fatalf is invoked. It receives the
// formatted fatal message and should transition the tree to a stopped
// state (reject writes) without killing the embedding process.
//
// Must be safe for concurrent use and must not itself call Fatalf.
type FatalHandler func(msg string)

// Level is a logging verbosity threshold.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Logger is the leveled logging interface every subsystem logs through.
//
// Fatalf logs at FATAL level and invokes the configured FatalHandler; it
// does NOT call os.Exit — an Unrecoverable manifest error should stop
// writes, not the process.
type Logger interface {
	Errorf(format string, args ...any)
	Warnf(format string, args ...any)
	Infof(format string, args ...any)
	Debugf(format string, args ...any)
	Fatalf(format string, args ...any)
}

// DefaultLogger writes to an io.Writer at a fixed level. Stateless aside
// from the fatal handler pointer, safe for concurrent use.
type DefaultLogger struct {
	logger       *log.Logger
	level        Level
	fatalHandler atomic.Pointer[FatalHandler]
}

// NewDefaultLogger writes to stderr at the given level.
func NewDefaultLogger(level Level) *DefaultLogger {
	return NewLogger(os.Stderr, level)
}

// NewLogger writes to w at the given level.
func NewLogger(w io.Writer, level Level) *DefaultLogger {
	return &DefaultLogger{logger: log.New(w, "", log.LstdFlags), level: level}
}

// SetFatalHandler installs the handler Fatalf invokes.
func (l *DefaultLogger) SetFatalHandler(h FatalHandler) { l.fatalHandler.Store(&h) }

func (l *DefaultLogger) Level() Level { return l.level }

func (l *DefaultLogger) Errorf(format string, args ...any) {
	if l.level >= LevelError {
		_ = l.logger.Output(2, "ERROR "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	if l.level >= LevelWarn {
		_ = l.logger.Output(2, "WARN "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	if l.level >= LevelInfo {
		_ = l.logger.Output(2, "INFO "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.level >= LevelDebug {
		_ = l.logger.Output(2, "DEBUG "+fmt.Sprintf(format, args...))
	}
}

func (l *DefaultLogger) Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	_ = l.logger.Output(2, "FATAL "+msg)
	if h := l.fatalHandler.Load(); h != nil {
		(*h)(msg)
	}
}

// Namespace prefixes, concatenated onto a log message's format string.
const (
	NSFlush    = "[flush] "
	NSCompact  = "[compact] "
	NSGC       = "[gc] "
	NSManifest = "[manifest] "
	NSRecovery = "[recovery] "
	NSTree     = "[tree] "
)

// IsNil reports whether l is nil or a typed-nil pointer assigned to the
// interface (which would otherwise panic on first use).
func IsNil(l Logger) bool {
	if l == nil {
		return true
	}
	v := reflect.ValueOf(l)
	return v.Kind() == reflect.Ptr && v.IsNil()
}

// OrDefault returns l if valid, else a WARN-level default logger so
// callers never have to nil-check before logging.
func OrDefault(l Logger) Logger {
	if IsNil(l) {
		return NewDefaultLogger(LevelWarn)
	}
	return l
}
