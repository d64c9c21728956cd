// Package logx is the connection-lifetime logger. It follows
// github.com/indigo-web/indigo's own convention (https.go logs plain,
// level-prefixed lines through the standard log package rather than a
// structured logging library) instead of introducing one.
package logx

import (
	"log"
	"os"
)

// Logger is a minimal level-prefixed wrapper over *log.Logger. It exists so
// a Runtime can inject a silent logger in tests without every call site
// checking for nil.
type Logger struct {
	l *log.Logger
}

// New wraps std, matching https.go's use of the default logger.
func New(std *log.Logger) *Logger {
	if std == nil {
		std = log.New(os.Stderr, "", log.LstdFlags)
	}

	return &Logger{l: std}
}

// Discard returns a Logger that drops everything, for tests.
func Discard() *Logger {
	return &Logger{l: log.New(discardWriter{}, "", 0)}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func (l *Logger) Warn(connID, format string, args ...any) {
	l.printf("WARN", connID, format, args...)
}

func (l *Logger) Info(connID, format string, args ...any) {
	l.printf("INFO", connID, format, args...)
}

func (l *Logger) printf(level, connID, format string, args ...any) {
	l.l.Printf("%s: [%s] "+format, append([]any{level, connID}, args...)...)
}
