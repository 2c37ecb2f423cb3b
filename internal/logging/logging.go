// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging provides the structured logger used throughout the
// engine, built on charmbracelet/log.
package logging

import (
	"os"

	charmlog "github.com/charmbracelet/log"
)

// Config controls logger construction.
type Config struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string
	// JSON switches the output formatter from the default text style to
	// line-delimited JSON, for log aggregation.
	JSON bool
}

// DefaultConfig returns the engine's default logging configuration.
func DefaultConfig() Config {
	return Config{
		Level: "info",
		JSON:  false,
	}
}

// Logger wraps a charmbracelet/log.Logger with the engine's conventions:
// component-scoped sub-loggers and the structured key/value call shape used
// across every package in this module.
type Logger struct {
	inner *charmlog.Logger
}

// New builds a Logger from cfg, writing to stderr.
func New(cfg Config) *Logger {
	opts := charmlog.Options{
		ReportTimestamp: true,
		Level:           parseLevel(cfg.Level),
	}
	if cfg.JSON {
		opts.Formatter = charmlog.JSONFormatter
	}
	return &Logger{inner: charmlog.NewWithOptions(os.Stderr, opts)}
}

func parseLevel(level string) charmlog.Level {
	switch level {
	case "debug":
		return charmlog.DebugLevel
	case "warn":
		return charmlog.WarnLevel
	case "error":
		return charmlog.ErrorLevel
	default:
		return charmlog.InfoLevel
	}
}

// WithComponent returns a sub-logger that tags every line with
// component=name, the pattern used across every package in this engine.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{inner: l.inner.With("component", name)}
}

// With attaches arbitrary key/value pairs to a derived sub-logger.
func (l *Logger) With(keyvals ...any) *Logger {
	return &Logger{inner: l.inner.With(keyvals...)}
}

// Debug logs at debug level with structured key/value pairs.
func (l *Logger) Debug(msg string, keyvals ...any) { l.inner.Debug(msg, keyvals...) }

// Info logs at info level with structured key/value pairs.
func (l *Logger) Info(msg string, keyvals ...any) { l.inner.Info(msg, keyvals...) }

// Warn logs at warn level with structured key/value pairs.
func (l *Logger) Warn(msg string, keyvals ...any) { l.inner.Warn(msg, keyvals...) }

// Error logs at error level with structured key/value pairs.
func (l *Logger) Error(msg string, keyvals ...any) { l.inner.Error(msg, keyvals...) }
