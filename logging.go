package meshcull

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

// Logger is what the asset server and the visibility system report through.
type Logger interface {
	DebugEnabled() bool
	SetDebug(enabled bool)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type level string

const (
	levelDebug level = "DEBUG"
	levelInfo  level = "INFO"
	levelWarn  level = "WARN"
	levelError level = "ERROR"
)

// DefaultLogger sends debug and info lines to one writer and warnings and
// errors to another. Safe for concurrent use by culling workers.
type DefaultLogger struct {
	prefix string
	debug  atomic.Bool
	info   *log.Logger
	alert  *log.Logger
}

func NewDefaultLogger(prefix string, debug bool) *DefaultLogger {
	return newLogger(prefix, debug, os.Stdout, os.Stderr)
}

func newLogger(prefix string, debug bool, info, alert io.Writer) *DefaultLogger {
	flags := log.LstdFlags | log.Lmicroseconds
	l := &DefaultLogger{
		prefix: prefix,
		info:   log.New(info, "", flags),
		alert:  log.New(alert, "", flags),
	}
	l.debug.Store(debug)
	return l
}

func (l *DefaultLogger) DebugEnabled() bool    { return l.debug.Load() }
func (l *DefaultLogger) SetDebug(enabled bool) { l.debug.Store(enabled) }

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.debug.Load() {
		l.write(l.info, levelDebug, format, args)
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	l.write(l.info, levelInfo, format, args)
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	l.write(l.alert, levelWarn, format, args)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	l.write(l.alert, levelError, format, args)
}

func (l *DefaultLogger) write(dst *log.Logger, lvl level, format string, args []any) {
	msg := fmt.Sprintf(format, args...)
	if l.prefix == "" {
		dst.Printf("%s: %s", lvl, msg)
		return
	}
	dst.Printf("[%s] %s: %s", l.prefix, lvl, msg)
}

// discard drops everything and never reports debug as enabled.
type discard struct{}

func NewNopLogger() Logger { return discard{} }

func (discard) DebugEnabled() bool    { return false }
func (discard) SetDebug(bool)         {}
func (discard) Debugf(string, ...any) {}
func (discard) Infof(string, ...any)  {}
func (discard) Warnf(string, ...any)  {}
func (discard) Errorf(string, ...any) {}

// orNop never returns nil.
func orNop(l Logger) Logger {
	if l == nil {
		return NewNopLogger()
	}
	return l
}
