// Package logging is the daemon's slog setup: a console format for
// journald, JSON for log shippers, and per-component child loggers.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"grimm.is/turnstile/internal/clock"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Logger is a slog.Logger that remembers its level variable, so children
// made with WithComponent follow SetLevel on the parent.
type Logger struct {
	*slog.Logger
	level *slog.LevelVar
}

// Config selects the handler and threshold.
type Config struct {
	Level     Level
	Output    io.Writer
	JSON      bool
	AddSource bool
}

// DefaultConfig logs info and above to stderr in console format.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// ParseLevel maps "debug", "info", "warn" or "error" to a Level.
// Anything else is info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	}
	return LevelInfo
}

// New builds a Logger from cfg.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	lv := new(slog.LevelVar)
	lv.Set(cfg.Level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: cfg.AddSource}

	var h slog.Handler = NewConsoleHandler(out, opts)
	if cfg.JSON {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{Logger: slog.New(h), level: lv}
}

// Discard drops everything.
func Discard() *Logger {
	return New(Config{Level: LevelError + 1, Output: io.Discard})
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide logger set by SetDefault, or a
// DefaultConfig logger when none was set.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(DefaultConfig())
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// SetLevel changes the threshold for this logger and all its children.
func (l *Logger) SetLevel(level Level) { l.level.Set(level) }

// GetLevel returns the current threshold.
func (l *Logger) GetLevel() Level { return l.level.Level() }

// WithComponent tags every record with component=name. The console
// handler prints it as a "name:" prefix.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), level: l.level}
}

// Audit records an admission decision (a grant, an expiry, a revoke, a
// policy flip) at info level with audit=true so it can be filtered out of
// the journal. subject is usually a MAC address.
func (l *Logger) Audit(event, subject string, args ...any) {
	attrs := append([]any{
		"audit", true,
		"event", event,
		"subject", subject,
		"at", clock.Now().UTC().Format(time.RFC3339),
	}, args...)
	l.Info("audit "+event, attrs...)
}

// OrDefault scopes l to component, falling back to the default logger
// when l is nil.
func OrDefault(l *Logger, component string) *Logger {
	if l == nil {
		l = Default()
	}
	return l.WithComponent(component)
}
