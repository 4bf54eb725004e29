package observability

import (
	"fmt"
	"log"
	"strings"
)

// Level gates log output by severity.
type Level int

const (
	// LevelDebug emits everything.
	LevelDebug Level = iota
	// LevelInfo is the production default.
	LevelInfo
	// LevelWarn emits warnings and errors only.
	LevelWarn
	// LevelError emits errors only.
	LevelError
)

// ParseLevel maps a config string onto a Level, defaulting to info.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// StdLogger writes levelled key=value lines through a standard log.Logger.
type StdLogger struct {
	out   *log.Logger
	level Level
}

// NewStdLogger wraps a standard logger. A nil logger uses log.Default.
func NewStdLogger(out *log.Logger, level Level) *StdLogger {
	if out == nil {
		out = log.Default()
	}
	return &StdLogger{out: out, level: level}
}

// Debug implements Logger.
func (l *StdLogger) Debug(msg string, fields ...Field) { l.write(LevelDebug, "DEBUG", msg, fields) }

// Info implements Logger.
func (l *StdLogger) Info(msg string, fields ...Field) { l.write(LevelInfo, "INFO", msg, fields) }

// Warn implements Logger.
func (l *StdLogger) Warn(msg string, fields ...Field) { l.write(LevelWarn, "WARN", msg, fields) }

// Error implements Logger.
func (l *StdLogger) Error(msg string, fields ...Field) { l.write(LevelError, "ERROR", msg, fields) }

func (l *StdLogger) write(level Level, tag, msg string, fields []Field) {
	if level < l.level {
		return
	}
	var b strings.Builder
	b.WriteString(tag)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, field := range fields {
		fmt.Fprintf(&b, " %s=%v", field.Key, field.Value)
	}
	l.out.Print(b.String())
}
