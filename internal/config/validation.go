package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// Debounce window bounds in milliseconds.
const (
	MinDebounceMs = 50
	MaxDebounceMs = 10000
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is reports ErrInvalidConfig so callers can match any validation failure.
func (e ValidationErrors) Is(target error) bool {
	return target == ErrInvalidConfig
}

// ErrInvalidConfig is returned when validation fails.
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateBridge(&c.Bridge)...)
	errs = append(errs, validateEditor(&c.Editor)...)
	errs = append(errs, validateJournal(&c.Journal)...)
	errs = append(errs, validateNotify(&c.Notify)...)
	errs = append(errs, validateMetrics(&c.Metrics, &c.Bridge)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateBridge(b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors

	switch b.Transport {
	case TransportWebsocket:
		if _, _, err := net.SplitHostPort(b.ListenAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "bridge.listen_addr",
				Message: fmt.Sprintf("invalid address %q: %v", b.ListenAddr, err),
			})
		}
		if !strings.HasPrefix(b.Path, "/") {
			errs = append(errs, ValidationError{
				Field:   "bridge.path",
				Message: "must start with /",
			})
		}
	case TransportUnix:
		if b.SocketPath == "" {
			errs = append(errs, *RequiredFieldError("bridge.socket_path"))
		} else if !filepath.IsAbs(b.SocketPath) {
			errs = append(errs, ValidationError{
				Field:   "bridge.socket_path",
				Message: "must be an absolute path",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "bridge.transport",
			Message: fmt.Sprintf("unknown transport %q (want websocket or unix)", b.Transport),
		})
	}

	if b.RequestTimeoutSec < 1 || b.RequestTimeoutSec > 3600 {
		errs = append(errs, *RangeError("bridge.request_timeout_sec", 1, 3600))
	}

	for i, origin := range b.AllowedOrigins {
		if !strings.Contains(origin, "://") {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("bridge.allowed_origins[%d]", i),
				Message: fmt.Sprintf("origin %q must include a scheme", origin),
			})
		}
	}

	return errs
}

func validateEditor(e *EditorConfig) ValidationErrors {
	var errs ValidationErrors

	if e.DebounceMs < MinDebounceMs || e.DebounceMs > MaxDebounceMs {
		errs = append(errs, *RangeError("editor.debounce_ms", MinDebounceMs, MaxDebounceMs))
	}
	if e.WorkDir == "" {
		errs = append(errs, *RequiredFieldError("editor.work_dir"))
	}
	if e.MaxMediaBytes <= 0 {
		errs = append(errs, ValidationError{
			Field:   "editor.max_media_bytes",
			Message: "must be positive",
		})
	}
	for i, ext := range e.AcceptedExtensions {
		ext = strings.TrimPrefix(ext, ".")
		if ext == "" || strings.ContainsAny(ext, `/\* `) {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("editor.accepted_extensions[%d]", i),
				Message: fmt.Sprintf("invalid extension %q", e.AcceptedExtensions[i]),
			})
		}
	}

	return errs
}

func validateJournal(j *JournalConfig) ValidationErrors {
	if j.Enabled && j.Path == "" {
		return ValidationErrors{*RequiredFieldError("journal.path")}
	}
	return nil
}

func validateNotify(n *NotifyConfig) ValidationErrors {
	switch n.Backend {
	case "log", "dbus":
		return nil
	default:
		return ValidationErrors{{
			Field:   "notify.backend",
			Message: fmt.Sprintf("unknown backend %q (want log or dbus)", n.Backend),
		}}
	}
}

func validateMetrics(m *MetricsConfig, b *BridgeConfig) ValidationErrors {
	var errs ValidationErrors
	if !m.Enabled {
		return nil
	}
	if !strings.HasPrefix(m.Path, "/") {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "must start with /",
		})
	}
	if b.Transport == TransportWebsocket && m.Path == b.Path {
		errs = append(errs, ValidationError{
			Field:   "metrics.path",
			Message: "collides with bridge.path",
		})
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("unknown level %q", l.Level),
		})
	}

	switch strings.ToLower(l.Format) {
	case "text", "json":
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("unknown format %q", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, *RequiredFieldError("logging.file_path"))
		}
		if l.MaxSizeMB <= 0 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "must be positive",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("unknown output %q", l.Output),
		})
	}

	return errs
}

// Helper functions

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// RequiredFieldError creates a validation error for a required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: "required field is missing",
	}
}

// RangeError creates a validation error for an out-of-range value.
func RangeError(field string, min, max any) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("value must be between %v and %v", min, max),
	}
}
