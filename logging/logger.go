// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer RegistryLogger with contextual
// helpers (registry, component) and domain specific logging helpers for sync
// batches, searches and embedding calls.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// LogLevel is a thin enum for user friendly level configuration decoupled from slog.
type LogLevel int

const (
	// LogLevelDebug is the debug logging level.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is the informational logging level.
	LogLevelInfo
	// LogLevelWarn is the warning logging level.
	LogLevelWarn
	// LogLevelError is the error logging level.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger defines the minimal logging interface for RecallMesh.
// This allows users to provide their own logger implementation or use the built-in adapters.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// Debug logs a debug message.
func (s *SlogAdapter) Debug(msg string, args ...any) { s.Logger.Debug(msg, args...) }

// Info logs an informational message.
func (s *SlogAdapter) Info(msg string, args ...any) { s.Logger.Info(msg, args...) }

// Warn logs a warning message.
func (s *SlogAdapter) Warn(msg string, args ...any) { s.Logger.Warn(msg, args...) }

// Error logs an error message.
func (s *SlogAdapter) Error(msg string, args ...any) { s.Logger.Error(msg, args...) }

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewDefaultSlogLogger creates a Logger using slog.Default().
func NewDefaultSlogLogger() Logger {
	return NewSlogAdapter(slog.Default())
}

// NoOpLogger discards all log messages. Useful for testing or when logging is disabled.
type NoOpLogger struct{}

// Debug logs a debug message.
func (NoOpLogger) Debug(string, ...any) {}

// Info logs an informational message.
func (NoOpLogger) Info(string, ...any) {}

// Warn logs a warning message.
func (NoOpLogger) Warn(string, ...any) {}

// Error logs an error message.
func (NoOpLogger) Error(string, ...any) {}

// LoggerConfig configures construction of a RegistryLogger.
type LoggerConfig struct {
	Level     LogLevel
	Format    string // json or text
	Output    io.Writer
	AddSource bool
	Registry  string
	Component string
}

// DefaultLoggerConfig returns a baseline JSON info level configuration.
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{Level: LogLevelInfo, Format: "json", Output: os.Stdout}
}

// RegistryLogger wraps slog.Logger adding contextual cloning helpers and
// domain convenience methods. It is cheap to copy via With* methods.
type RegistryLogger struct {
	logger    *slog.Logger
	level     LogLevel
	registry  string
	component string
}

// NewLogger builds a RegistryLogger from a config (or defaults if nil).
func NewLogger(cfg *LoggerConfig) *RegistryLogger {
	if cfg == nil {
		cfg = DefaultLoggerConfig()
	}
	opts := &slog.HandlerOptions{Level: slogLevel(cfg.Level), AddSource: cfg.AddSource}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(cfg.Output, opts)
	} else {
		handler = slog.NewJSONHandler(cfg.Output, opts)
	}
	return &RegistryLogger{logger: slog.New(handler), level: cfg.Level, registry: cfg.Registry, component: cfg.Component}
}

func slogLevel(l LogLevel) slog.Level {
	switch l {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithRegistry attaches the registry name (tools, knowledge, facts, ...).
func (l *RegistryLogger) WithRegistry(name string) *RegistryLogger {
	nl := *l
	nl.registry = name
	return &nl
}

// WithComponent sets the logical component (sync, search, embedder, store, ...).
func (l *RegistryLogger) WithComponent(c string) *RegistryLogger {
	nl := *l
	nl.component = c
	return &nl
}

func (l *RegistryLogger) attrs(extra ...slog.Attr) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(extra)+2)
	if l.registry != "" {
		attrs = append(attrs, slog.String("registry", l.registry))
	}
	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}
	return append(attrs, extra...)
}

func (l *RegistryLogger) log(level slog.Level, allowed bool, msg string, args ...any) {
	if !allowed {
		return
	}
	l.logger.LogAttrs(context.Background(), level, msg, append(l.attrs(), argsToAttrs(args)...)...)
}

func argsToAttrs(args []any) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return attrs
}

// Debug logs at debug level.
func (l *RegistryLogger) Debug(msg string, args ...any) {
	l.log(slog.LevelDebug, l.level <= LogLevelDebug, msg, args...)
}

// Info logs at info level.
func (l *RegistryLogger) Info(msg string, args ...any) {
	l.log(slog.LevelInfo, l.level <= LogLevelInfo, msg, args...)
}

// Warn logs at warn level.
func (l *RegistryLogger) Warn(msg string, args ...any) {
	l.log(slog.LevelWarn, l.level <= LogLevelWarn, msg, args...)
}

// Error logs at error level.
func (l *RegistryLogger) Error(msg string, args ...any) {
	l.log(slog.LevelError, l.level <= LogLevelError, msg, args...)
}

// LogSyncBatch records the outcome of one sync call.
func (l *RegistryLogger) LogSyncBatch(updated, unchanged, skipped int, dur time.Duration) {
	if l.level > LogLevelInfo {
		return
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Sync completed", l.attrs(
		slog.Int("updated", updated),
		slog.Int("unchanged", unchanged),
		slog.Int("skipped", skipped),
		slog.Duration("duration", dur),
	)...)
}

// LogSearch records the outcome of one search call. Degraded marks searches
// that fell back to vector ordering because the reranker failed.
func (l *RegistryLogger) LogSearch(results int, degraded bool, dur time.Duration) {
	if l.level > LogLevelInfo {
		return
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "Search completed", l.attrs(
		slog.Int("results", results),
		slog.Bool("degraded", degraded),
		slog.Duration("duration", dur),
	)...)
}

// LogEmbedBatch records one embedding provider call.
func (l *RegistryLogger) LogEmbedBatch(provider string, size int, dur time.Duration, err error) {
	level := slog.LevelDebug
	allowed := l.level <= LogLevelDebug
	msg := "Embedding batch completed"
	attrs := l.attrs(slog.String("provider", provider), slog.Int("batch_size", size), slog.Duration("duration", dur))
	if err != nil {
		level = slog.LevelError
		allowed = l.level <= LogLevelError
		msg = "Embedding batch failed"
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	if !allowed {
		return
	}
	l.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// StartTimer returns a closure that logs the elapsed duration when invoked.
func (l *RegistryLogger) StartTimer(op string) func() {
	start := time.Now()
	return func() { l.Info("Operation completed", "operation", op, "duration", time.Since(start)) }
}
