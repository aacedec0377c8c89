// Package logger provides a consistent slog-based logger across the
// gateway, mirroring the ambient logging setup of the wider protocol-bridge
// family this codebase is descended from.
package logger

import (
	"log/slog"
	"os"
	"strings"
)

// Logger wraps slog.Logger for consistent construction across the gateway.
type Logger struct {
	*slog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level  string `yaml:"level" json:"level"`   // "debug", "info", "warn", "error"
	Format string `yaml:"format" json:"format"` // "text", "json"
	Output string `yaml:"output" json:"output"` // "stdout", "file"
	File   string `yaml:"file" json:"file"`     // path to log file, when Output == "file"
}

var globalLogger *Logger

// New creates a new Logger instance from Config.
func New(config Config) *Logger {
	var level slog.Level
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	writer := os.Stdout
	if config.Output == "file" && config.File != "" {
		if f, err := os.OpenFile(config.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			writer = f
		}
	}

	var handler slog.Handler
	if strings.ToLower(config.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	l := &Logger{Logger: slog.New(handler)}
	if globalLogger == nil {
		globalLogger = l
	}
	return l
}

// Global returns the process-wide logger, defaulting to info/text if none
// has been configured yet.
func Global() *Logger {
	if globalLogger == nil {
		return New(Config{Level: "info", Format: "text"})
	}
	return globalLogger
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) {
	globalLogger = l
}
