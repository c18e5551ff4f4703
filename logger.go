package poingest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// LogLevel log level
type LogLevel int

const (
	Debug LogLevel = iota
	Info
	Warn
	Error
	Off
)

func (l LogLevel) String() string {
	switch l {
	case Debug:
		return "DEBUG"
	case Info:
		return "INFO"
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	}
	return "NONE"
}

// Logger used by all pipeline components
type Logger interface {
	Debug(ctx context.Context, msg string, args ...interface{})
	Info(ctx context.Context, msg string, args ...interface{})
	Warn(ctx context.Context, msg string, args ...interface{})
	Error(ctx context.Context, msg string, args ...interface{})
}

// NewLogger create a Logger writing to out with the given level
func NewLogger(out io.Writer, level LogLevel) Logger {
	return &defaultLogger{
		out:   out,
		level: level,
	}
}

type defaultLogger struct {
	mu    sync.Mutex
	out   io.Writer
	level LogLevel
}

func (l *defaultLogger) log(level LogLevel, msg string, args ...interface{}) {
	if level < l.level {
		return
	}
	line := fmt.Sprintf("%s | %-5s | %s\n", time.Now().Format("2006-01-02 15:04:05.000"), level, fmt.Sprintf(msg, args...))
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.out, line)
}

func (l *defaultLogger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.log(Debug, msg, args...)
}

func (l *defaultLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.log(Info, msg, args...)
}

func (l *defaultLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.log(Warn, msg, args...)
}

func (l *defaultLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.log(Error, msg, args...)
}
