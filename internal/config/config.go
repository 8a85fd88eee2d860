// Package config loads the inkbridge configuration file (TOML, JSON or
// YAML), applies INKBRIDGE_* environment overrides and validates the result.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Transport names accepted by BridgeConfig.Transport.
const (
	TransportWebsocket = "websocket"
	TransportUnix      = "unix"
)

// Config holds the complete editor endpoint configuration.
type Config struct {
	mu sync.RWMutex

	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	Bridge  BridgeConfig  `toml:"bridge" json:"bridge" yaml:"bridge"`
	Editor  EditorConfig  `toml:"editor" json:"editor" yaml:"editor"`
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`
	Notify  NotifyConfig  `toml:"notify" json:"notify" yaml:"notify"`
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// BridgeConfig holds the host transport configuration.
type BridgeConfig struct {
	// Transport is "websocket" or "unix".
	Transport string `toml:"transport" json:"transport" yaml:"transport"`

	// ListenAddr is the websocket listen address (host:port).
	ListenAddr string `toml:"listen_addr" json:"listen_addr" yaml:"listen_addr"`

	// Path is the HTTP path the websocket endpoint is mounted on.
	Path string `toml:"path" json:"path" yaml:"path"`

	// SocketPath is the unix socket path.
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`

	// RequestTimeoutSec bounds each fileSelected call to the host.
	RequestTimeoutSec int `toml:"request_timeout_sec" json:"request_timeout_sec" yaml:"request_timeout_sec"`

	// Token is the shared secret the host presents in its hello.
	Token string `toml:"token" json:"token" yaml:"token"`

	// AllowedOrigins lists extra websocket origins besides same-host.
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
}

// Equal reports whether b and o describe the same transport.
func (b BridgeConfig) Equal(o BridgeConfig) bool {
	return b.Transport == o.Transport &&
		b.ListenAddr == o.ListenAddr &&
		b.Path == o.Path &&
		b.SocketPath == o.SocketPath &&
		b.Token == o.Token &&
		slices.Equal(b.AllowedOrigins, o.AllowedOrigins)
}

// EditorConfig holds editing session configuration.
type EditorConfig struct {
	// DebounceMs is the content notification quiet window.
	DebounceMs int `toml:"debounce_ms" json:"debounce_ms" yaml:"debounce_ms"`

	// WorkDir receives imported media before upload.
	WorkDir string `toml:"work_dir" json:"work_dir" yaml:"work_dir"`

	// AcceptedExtensions apply when a launch does not name its own.
	AcceptedExtensions []string `toml:"accepted_extensions" json:"accepted_extensions" yaml:"accepted_extensions"`

	// MaxMediaBytes caps a single imported file.
	MaxMediaBytes int64 `toml:"max_media_bytes" json:"max_media_bytes" yaml:"max_media_bytes"`
}

// JournalConfig holds attachment lifecycle journal configuration.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// NotifyConfig selects how busy and toast affordances reach the user.
type NotifyConfig struct {
	// Backend is "log" or "dbus".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is the log format: "text" or "json".
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is the log output: "stdout", "stderr", "file", or "both".
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the path to the log file (when Output is "file").
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	// MaxSizeMB is the maximum log file size before rotation.
	MaxSizeMB int `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`

	// MaxBackups is the number of old log files to keep.
	MaxBackups int `toml:"max_backups" json:"max_backups" yaml:"max_backups"`

	// MaxAgeDays is the maximum age of log files in days.
	MaxAgeDays int `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`

	// Compress determines whether to compress rotated logs.
	Compress bool `toml:"compress" json:"compress" yaml:"compress"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := InkbridgeDir()
	return &Config{
		Version: Version,
		Bridge: BridgeConfig{
			Transport:         TransportWebsocket,
			ListenAddr:        "127.0.0.1:7420",
			Path:              "/bridge",
			SocketPath:        defaultSocketPath(),
			RequestTimeoutSec: 120,
		},
		Editor: EditorConfig{
			DebounceMs:         300,
			WorkDir:            filepath.Join(PlatformCacheDir(), "media"),
			AcceptedExtensions: []string{"png", "jpg", "jpeg", "gif", "webp", "mp4", "mov", "webm"},
			MaxMediaBytes:      256 << 20,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "journal.db"),
		},
		Notify: NotifyConfig{
			Backend: "log",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "inkbridge.log"),
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path.
// If the file doesn't exist, returns default configuration.
// Supports TOML, JSON, and YAML formats based on file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// expandPaths resolves a leading ~/ in every path setting.
func (c *Config) expandPaths() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range []*string{
		&c.Bridge.SocketPath,
		&c.Editor.WorkDir,
		&c.Journal.Path,
		&c.Logging.FilePath,
	} {
		*p = expandPath(*p)
	}
}

// Save writes cfg as TOML.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates all necessary directories for the endpoint.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Editor.WorkDir}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Bridge.Transport == TransportUnix {
		dirs = append(dirs, filepath.Dir(c.Bridge.SocketPath))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}

// Debounce returns the content notification window.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Editor.DebounceMs) * time.Millisecond
}

// RequestTimeout returns the host call timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Bridge.RequestTimeoutSec) * time.Second
}

// InkbridgeDir returns the base inkbridge data directory.
// Uses platform-specific paths or INKBRIDGE_DATA_DIR environment override.
func InkbridgeDir() string {
	if envDir := os.Getenv("INKBRIDGE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with INKBRIDGE_ and use underscores.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Bridge overrides
	if v := os.Getenv("INKBRIDGE_TRANSPORT"); v != "" {
		c.Bridge.Transport = v
	}
	if v := os.Getenv("INKBRIDGE_LISTEN_ADDR"); v != "" {
		c.Bridge.ListenAddr = v
	}
	if v := os.Getenv("INKBRIDGE_SOCKET_PATH"); v != "" {
		c.Bridge.SocketPath = v
	}
	// Kept out of config files where possible.
	if v := os.Getenv("INKBRIDGE_TOKEN"); v != "" {
		c.Bridge.Token = v
	}

	// Editor overrides
	if v := os.Getenv("INKBRIDGE_DEBOUNCE_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Editor.DebounceMs = n
		}
	}
	if v := os.Getenv("INKBRIDGE_WORK_DIR"); v != "" {
		c.Editor.WorkDir = v
	}

	// Journal overrides
	if v := os.Getenv("INKBRIDGE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
	}

	if v := os.Getenv("INKBRIDGE_NOTIFY_BACKEND"); v != "" {
		c.Notify.Backend = v
	}

	// Logging overrides
	if v := os.Getenv("INKBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("INKBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version: c.Version,
		Bridge:  c.Bridge,
		Editor:  c.Editor,
		Journal: c.Journal,
		Notify:  c.Notify,
		Metrics: c.Metrics,
		Logging: c.Logging,
	}

	// Deep copy slices
	clone.Bridge.AllowedOrigins = append([]string(nil), c.Bridge.AllowedOrigins...)
	clone.Editor.AcceptedExtensions = append([]string(nil), c.Editor.AcceptedExtensions...)

	return clone
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	clone := c.Clone()
	if clone.Bridge.Token != "" {
		clone.Bridge.Token = strings.Repeat("*", 8)
	}
	return clone
}

func defaultSocketPath() string {
	if dir := PlatformRuntimeDir(); dir != "" {
		return filepath.Join(dir, "inkbridge.sock")
	}
	return "/tmp/inkbridge.sock"
}
