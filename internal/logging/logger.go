// Package logging provides the leveled, component-scoped line logger shared by the daemon
// and the engine packages.
package logging

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Logger writes lines of the form "<RFC3339> <LEVEL> <component>: <message>".
// Loggers derived with With share the underlying writer and level.
type Logger struct {
	out       *log.Logger
	level     *levelVar
	component string
	now       func() time.Time
}

type levelVar struct {
	mu sync.RWMutex
	v  LogLevel
}

func New(w io.Writer, level LogLevel, component string) *Logger {
	return &Logger{
		out:       log.New(w, "", 0),
		level:     &levelVar{v: level},
		component: component,
		now:       time.Now,
	}
}

// Discard returns a logger that drops everything; used by tests and tools.
func Discard() *Logger {
	return New(io.Discard, LevelError+1, "")
}

// With returns a logger for a sub-component.
func (l *Logger) With(component string) *Logger {
	if l == nil {
		return nil
	}
	c := *l
	c.component = component
	return &c
}

func (l *Logger) SetLevel(level LogLevel) {
	l.level.mu.Lock()
	l.level.v = level
	l.level.mu.Unlock()
}

func (l *Logger) Enabled(level LogLevel) bool {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return level >= l.level.v
}

func (l *Logger) Log(level LogLevel, format string, args ...any) {
	if l == nil || !l.Enabled(level) {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%s %s %s: %s", l.now().Format(time.RFC3339), level, l.component, msg)
}

func (l *Logger) Debug(format string, args ...any) { l.Log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...any)  { l.Log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...any)  { l.Log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...any) { l.Log(LevelError, format, args...) }
