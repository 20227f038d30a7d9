package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, structured, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// ConsoleLogger writes human-readable logs through a slog text handler.
// Used for normal operation and debugging.
type ConsoleLogger struct {
	log *slog.Logger
}

func NewConsoleLogger() *ConsoleLogger {
	return NewConsoleLoggerWithLevel(os.Stderr, "info")
}

// NewConsoleLoggerWithLevel builds a logger writing to w that drops records
// below level (debug, info, warn, error).
func NewConsoleLoggerWithLevel(w io.Writer, level string) *ConsoleLogger {
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return &ConsoleLogger{log: slog.New(h)}
}

// ParseLevel maps a level name to a slog level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.log.Info(fmt.Sprintf(msg, args...))
}

func (c *ConsoleLogger) Warn(msg string, args ...interface{}) {
	c.log.Warn(fmt.Sprintf(msg, args...))
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.log.Error(fmt.Sprintf(msg, args...))
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	c.log.Debug(fmt.Sprintf(msg, args...))
}

// SilentLogger discards all log messages.
// Used in tests and in MCP stdio mode, where stdout carries the protocol.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Warn(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
