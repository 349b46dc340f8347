// Package logging provides the component-scoped logger used throughout
// forge. Call sites format their own messages (printf-style) rather than
// building structured fields, matching the log call shape used across the
// codebase's components.
package logging

import (
	"fmt"
	"log/slog"
	"os"
)

// Logger is the narrow logging surface every component depends on.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

var defaultHandler slog.Handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})

// SetOutput redirects all future component loggers to w. Intended for tests
// and for wiring verbose/quiet modes at startup.
func SetOutput(level slog.Level) {
	defaultHandler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
}

// componentLogger wraps slog with a fixed "component" attribute.
type componentLogger struct {
	base *slog.Logger
}

// NewComponentLogger returns a Logger tagged with the given component name,
// e.g. NewComponentLogger("TaskWorker").
func NewComponentLogger(name string) Logger {
	return &componentLogger{base: slog.New(defaultHandler).With("component", name)}
}

func (c *componentLogger) Debug(format string, args ...any) {
	c.base.Debug(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Info(format string, args ...any) {
	c.base.Info(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Warn(format string, args ...any) {
	c.base.Warn(fmt.Sprintf(format, args...))
}

func (c *componentLogger) Error(format string, args ...any) {
	c.base.Error(fmt.Sprintf(format, args...))
}

// Nop is a Logger that discards everything; useful as a zero-value default
// in tests that do not care about log output.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
