// Package logx provides a thin leveled wrapper over the standard library
// logger. The keeper has no structured-logging dependency of its own —
// every call site prefixes a level tag the way the rest of the codebase
// prefixes operation names, and writes through log.Default().
package logx

import (
	"fmt"
	"log"
	"os"
)

type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "???"
	}
}

// Logger is a leveled logger over a single *log.Logger sink, with a
// component tag prepended to every line (e.g. "[ingest]").
type Logger struct {
	component string
	min       Level
	out       *log.Logger
}

var minLevel = LevelInfo

// SetMinLevel sets the process-wide minimum level below which New loggers
// discard lines. Its initial value comes from KEEPER_LOG_LEVEL
// (trace|debug|info|warn|error), read once at package init; a later
// SetMinLevel call replaces that value.
func SetMinLevel(l Level) { minLevel = l }

func init() {
	switch os.Getenv("KEEPER_LOG_LEVEL") {
	case "trace":
		minLevel = LevelTrace
	case "debug":
		minLevel = LevelDebug
	case "warn":
		minLevel = LevelWarn
	case "error":
		minLevel = LevelError
	}
}

// New returns a Logger tagged with component, writing to the standard
// library's default logger.
func New(component string) *Logger {
	return &Logger{
		component: component,
		min:       minLevel,
		out:       log.Default(),
	}
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("%-5s [%s] %s", level.String(), l.component, msg)
}

func (l *Logger) Trace(format string, args ...interface{}) { l.log(LevelTrace, format, args...) }
func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }
