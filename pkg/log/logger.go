package log

import (
	"fmt"
	"strings"
	"time"
)

// Logger provides structured logging capabilities.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Level is a logging threshold.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel parses a level name. Matching is case-insensitive and accepts
// "warning" as an alias for warn.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// String creates a string field.
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Strings creates a string slice field.
func Strings(key string, value []string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field.
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a bool field.
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error".
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Any creates a field with any value.
func Any(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Named returns a Logger that adds a "component" field to every record.
func Named(logger Logger, component string) Logger {
	if logger == nil {
		logger = NewNoopLogger()
	}
	return &namedLogger{next: logger, component: component}
}

type namedLogger struct {
	next      Logger
	component string
}

func (n *namedLogger) with(fields []Field) []Field {
	out := make([]Field, 0, len(fields)+1)
	out = append(out, String("component", n.component))
	return append(out, fields...)
}

func (n *namedLogger) Debug(msg string, fields ...Field) { n.next.Debug(msg, n.with(fields)...) }
func (n *namedLogger) Info(msg string, fields ...Field)  { n.next.Info(msg, n.with(fields)...) }
func (n *namedLogger) Warn(msg string, fields ...Field)  { n.next.Warn(msg, n.with(fields)...) }
func (n *namedLogger) Error(msg string, fields ...Field) { n.next.Error(msg, n.with(fields)...) }
