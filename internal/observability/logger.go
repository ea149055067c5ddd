// Package observability defines shared logging primitives.
package observability

import (
	"fmt"
	"log"
	"strings"
)

// Logger captures structured logging behaviours shared across layers.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Field represents a key/value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F builds a Field.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Debug(string, ...Field) {}
func (NopLogger) Info(string, ...Field)  {}
func (NopLogger) Warn(string, ...Field)  {}
func (NopLogger) Error(string, ...Field) {}

// StdLogger adapts the standard library logger to the Logger interface.
type StdLogger struct {
	out *log.Logger
}

// NewStdLogger wraps the given stdlib logger; nil falls back to the default.
func NewStdLogger(out *log.Logger) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out}
}

func (l *StdLogger) Debug(msg string, fields ...Field) { l.print("DEBUG", msg, fields) }
func (l *StdLogger) Info(msg string, fields ...Field)  { l.print("INFO", msg, fields) }
func (l *StdLogger) Warn(msg string, fields ...Field)  { l.print("WARN", msg, fields) }
func (l *StdLogger) Error(msg string, fields ...Field) { l.print("ERROR", msg, fields) }

func (l *StdLogger) print(level, msg string, fields []Field) {
	if len(fields) == 0 {
		l.out.Printf("%s %s", level, msg)
		return
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, fmt.Sprintf("%s=%v", f.Key, f.Value))
	}
	l.out.Printf("%s %s %s", level, msg, strings.Join(parts, " "))
}

// Notifier is the user-visible notice sink strategies surface diagnostics to,
// distinct from structured logging.
type Notifier interface {
	Notify(message string)
}

// NopNotifier discards notices.
type NopNotifier struct{}

func (NopNotifier) Notify(string) {}

// LogNotifier forwards notices to a Logger at warning level.
type LogNotifier struct {
	Logger Logger
}

func (n LogNotifier) Notify(message string) {
	if n.Logger == nil {
		return
	}
	n.Logger.Warn("notice", F("message", message))
}
