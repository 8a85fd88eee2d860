// Package logging provides structured logging with slog for inkbridge.
//
// Loggers write text or JSON to stderr, stdout, a rotated file, or both.
// Attribute keys that name credentials (launch auth headers, bridge tokens)
// are redacted before they reach any writer.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Level represents a logging level.
type Level = slog.Level

// Log levels.
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format represents the output format for logs.
type Format int

const (
	// FormatText outputs human-readable text logs.
	FormatText Format = iota
	// FormatJSON outputs JSON-structured logs.
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level Level

	// Format is the output format (text or JSON).
	Format Format

	// Output specifies where logs are written.
	// Can be "stdout", "stderr", "file", or "both".
	Output string

	// FilePath is the path to the log file when Output includes "file".
	FilePath string

	// MaxSize is the maximum size of a log file in megabytes before rotation.
	MaxSize int64

	// MaxAge is the maximum age of log files in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated log files to keep.
	MaxBackups int

	// Compress determines if rotated logs should be gzip compressed.
	Compress bool

	// AddSource adds source file and line to log entries.
	AddSource bool

	// Component is the name of the component using this logger.
	Component string
}

// DefaultConfig returns a default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    100, // 100 MB
		MaxAge:     30,  // 30 days
		MaxBackups: 5,
		Compress:   true,
		AddSource:  false,
		Component:  "inkbridge",
	}
}

// defaultLogPath returns the platform-specific default log path.
func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "inkbridge", "inkbridge.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "inkbridge", "logs", "inkbridge.log")
	default: // Linux and other Unix
		// Check XDG_STATE_HOME first (for logs)
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "inkbridge", "inkbridge.log")
	}
}

// Logger is a slog.Logger that owns its file output.
type Logger struct {
	*slog.Logger
	rotator *FileRotator
}

// SetDefault installs l as the process-wide slog default.
func SetDefault(l *Logger) {
	slog.SetDefault(l.Logger)
}

// New builds a Logger from cfg; a nil cfg means DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{}
	w, err := l.output(cfg)
	if err != nil {
		return nil, fmt.Errorf("setup writers: %w", err)
	}

	opts := &slog.HandlerOptions{
		Level:       cfg.Level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: redact,
	}
	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}
	l.Logger = slog.New(handler)
	return l, nil
}

// output resolves cfg.Output. Unknown values fall back to stderr.
func (l *Logger) output(cfg *Config) (io.Writer, error) {
	mode := strings.ToLower(cfg.Output)
	switch mode {
	case "stdout":
		return os.Stdout, nil
	case "file", "both":
		r, err := NewFileRotator(cfg)
		if err != nil {
			return nil, err
		}
		l.rotator = r
		if mode == "both" {
			return io.MultiWriter(os.Stderr, r), nil
		}
		return r, nil
	default:
		return os.Stderr, nil
	}
}

// redact masks credential-looking keys and every member of a header group.
func redact(groups []string, a slog.Attr) slog.Attr {
	if shouldRedact(a.Key) || (len(groups) > 0 && isHeaderGroup(groups[len(groups)-1])) {
		a.Value = slog.StringValue(redacted)
	}
	return a
}

const redacted = "[REDACTED]"

var sensitiveKeys = []string{
	"password", "secret", "token", "credential", "auth",
	"cookie", "api_key", "apikey", "bearer",
}

// shouldRedact checks if an attribute key names sensitive data.
func shouldRedact(key string) bool {
	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

func isHeaderGroup(name string) bool {
	name = strings.ToLower(name)
	return name == "headers" || name == "header"
}

// Headers renders a header map as a group whose values are redacted by any
// Logger built with New.
func Headers(h map[string]string) slog.Attr {
	attrs := make([]any, 0, len(h))
	for k, v := range h {
		attrs = append(attrs, slog.String(k, v))
	}
	return slog.Group("headers", attrs...)
}

// WithComponent returns a logger tagged with another component name that
// shares l's output.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		rotator: l.rotator,
	}
}

// Close closes the log file, if any. Loggers derived with WithComponent
// share it.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Close()
}

// Sync flushes the log file, if any.
func (l *Logger) Sync() error {
	if l.rotator == nil {
		return nil
	}
	return l.rotator.Sync()
}

// ParseLevel parses a string into a log level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// LevelString returns the string representation of a log level.
func LevelString(level Level) string {
	switch level {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// Discard returns a logger that drops everything. Tests use it to keep
// output quiet.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
