package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Debounce() != 300*time.Millisecond {
		t.Errorf("expected debounce 300ms, got %v", cfg.Debounce())
	}
	if cfg.Bridge.Transport != TransportWebsocket {
		t.Errorf("expected websocket transport, got %s", cfg.Bridge.Transport)
	}
	if cfg.RequestTimeout() != 2*time.Minute {
		t.Errorf("expected 2m request timeout, got %v", cfg.RequestTimeout())
	}
	if !strings.Contains(cfg.Journal.Path, "inkbridge") {
		t.Errorf("journal path should contain inkbridge: %s", cfg.Journal.Path)
	}
	if !strings.Contains(cfg.Editor.WorkDir, "inkbridge") {
		t.Errorf("work dir should contain inkbridge: %s", cfg.Editor.WorkDir)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, "config.toml") {
		t.Errorf("expected path ending with config.toml, got %s", path)
	}
	if !strings.Contains(path, "inkbridge") {
		t.Errorf("config path should contain inkbridge: %s", path)
	}
}

func TestInkbridgeDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("INKBRIDGE_DATA_DIR", dir)
	if got := InkbridgeDir(); got != dir {
		t.Errorf("expected %s, got %s", dir, got)
	}
	if got := DefaultConfig().Journal.Path; got != filepath.Join(dir, "journal.db") {
		t.Errorf("journal path should follow data dir, got %s", got)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Editor.DebounceMs != 300 {
		t.Errorf("expected default debounce, got %d", cfg.Editor.DebounceMs)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "toml",
			file: "config.toml",
			content: `
# unix transport for the desktop host
version = 1

[bridge]
transport = "unix"
socket_path = "/run/user/1000/ink.sock"
request_timeout_sec = 30

[editor]
debounce_ms = 750
accepted_extensions = ["png", "mp4"]
`,
		},
		{
			name: "json",
			file: "config.json",
			content: `{
  "bridge": {"transport": "unix", "socket_path": "/run/user/1000/ink.sock", "request_timeout_sec": 30},
  "editor": {"debounce_ms": 750, "accepted_extensions": ["png", "mp4"]}
}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			content: `
bridge:
  transport: unix
  socket_path: /run/user/1000/ink.sock
  request_timeout_sec: 30
editor:
  debounce_ms: 750
  accepted_extensions: [png, mp4]
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Bridge.Transport != TransportUnix {
				t.Errorf("transport = %s", cfg.Bridge.Transport)
			}
			if cfg.Bridge.SocketPath != "/run/user/1000/ink.sock" {
				t.Errorf("socket path = %s", cfg.Bridge.SocketPath)
			}
			if cfg.RequestTimeout() != 30*time.Second {
				t.Errorf("request timeout = %v", cfg.RequestTimeout())
			}
			if cfg.Debounce() != 750*time.Millisecond {
				t.Errorf("debounce = %v", cfg.Debounce())
			}
			if len(cfg.Editor.AcceptedExtensions) != 2 {
				t.Errorf("accepted extensions = %v", cfg.Editor.AcceptedExtensions)
			}
			// Untouched sections keep their defaults.
			if cfg.Notify.Backend != "log" {
				t.Errorf("notify backend = %s", cfg.Notify.Backend)
			}
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate: %v", err)
			}
		})
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[bridge\ntransport = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INKBRIDGE_TRANSPORT", "unix")
	t.Setenv("INKBRIDGE_SOCKET_PATH", "/tmp/ink-test.sock")
	t.Setenv("INKBRIDGE_TOKEN", "from-env")
	t.Setenv("INKBRIDGE_DEBOUNCE_MS", "120")
	t.Setenv("INKBRIDGE_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Bridge.Transport != "unix" || cfg.Bridge.SocketPath != "/tmp/ink-test.sock" {
		t.Errorf("bridge overrides not applied: %+v", cfg.Bridge)
	}
	if cfg.Bridge.Token != "from-env" {
		t.Errorf("token = %q", cfg.Bridge.Token)
	}
	if cfg.Editor.DebounceMs != 120 {
		t.Errorf("debounce = %d", cfg.Editor.DebounceMs)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %s", cfg.Logging.Level)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[editor]\nwork_dir = \"~/media\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Editor.WorkDir != filepath.Join(home, "media") {
		t.Errorf("work dir = %s", cfg.Editor.WorkDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"debounce too small", func(c *Config) { c.Editor.DebounceMs = 10 }, "editor.debounce_ms"},
		{"debounce too large", func(c *Config) { c.Editor.DebounceMs = 60000 }, "editor.debounce_ms"},
		{"unknown transport", func(c *Config) { c.Bridge.Transport = "carrier-pigeon" }, "bridge.transport"},
		{"bad listen addr", func(c *Config) { c.Bridge.ListenAddr = "localhost" }, "bridge.listen_addr"},
		{"relative socket", func(c *Config) {
			c.Bridge.Transport = TransportUnix
			c.Bridge.SocketPath = "ink.sock"
		}, "bridge.socket_path"},
		{"zero timeout", func(c *Config) { c.Bridge.RequestTimeoutSec = 0 }, "bridge.request_timeout_sec"},
		{"origin without scheme", func(c *Config) { c.Bridge.AllowedOrigins = []string{"example.com"} }, "bridge.allowed_origins[0]"},
		{"empty extension", func(c *Config) { c.Editor.AcceptedExtensions = []string{"png", "."} }, "editor.accepted_extensions[1]"},
		{"journal without path", func(c *Config) { c.Journal.Path = "" }, "journal.path"},
		{"unknown notify backend", func(c *Config) { c.Notify.Backend = "pager" }, "notify.backend"},
		{"metrics path collides", func(c *Config) { c.Metrics.Path = c.Bridge.Path }, "metrics.path"},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"future version", func(c *Config) { c.Version = Version + 1 }, "version"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error should match ErrInvalidConfig: %v", err)
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, v := range verrs {
				if v.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("no error for %s in %v", tt.field, verrs)
			}
		})
	}
}

func TestValidateDisabledSectionsSkipChecks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Journal.Enabled = false
	cfg.Journal.Path = ""
	cfg.Metrics.Enabled = false
	cfg.Metrics.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	tmp := t.TempDir()
	cfg := DefaultConfig()
	cfg.Editor.WorkDir = filepath.Join(tmp, "media", "spool")
	cfg.Journal.Path = filepath.Join(tmp, "db", "journal.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(tmp, "logs", "inkbridge.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{
		cfg.Editor.WorkDir,
		filepath.Dir(cfg.Journal.Path),
		filepath.Dir(cfg.Logging.FilePath),
	} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("directory not created: %s", dir)
			continue
		}
		if info.Mode().Perm() != 0700 {
			t.Errorf("%s has mode %v", dir, info.Mode().Perm())
		}
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bridge.AllowedOrigins = []string{"app://host"}

	clone := cfg.Clone()
	clone.Bridge.AllowedOrigins[0] = "changed"
	clone.Editor.AcceptedExtensions[0] = "changed"

	if cfg.Bridge.AllowedOrigins[0] != "app://host" {
		t.Error("clone shares allowed origins")
	}
	if cfg.Editor.AcceptedExtensions[0] == "changed" {
		t.Error("clone shares accepted extensions")
	}
}

func TestRedactedHidesToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Bridge.Token = "hunter2"
	if got := cfg.Redacted().Bridge.Token; got == "hunter2" || got == "" {
		t.Errorf("token not masked: %q", got)
	}
	if cfg.Bridge.Token != "hunter2" {
		t.Error("Redacted modified the original")
	}
}

func TestSaveAndLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config mode = %v", info.Mode().Perm())
	}

	cfg.Editor.DebounceMs = 900
	if err := Save(cfg, path); err != nil {
		t.Fatal(err)
	}
	again, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("existing file reported as created")
	}
	if again.Editor.DebounceMs != 900 {
		t.Errorf("debounce = %d", again.Editor.DebounceMs)
	}
}

func TestPlatformDirsFollowXDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG layout is linux only")
	}
	base := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(base, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(base, "cache"))
	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(base, "run"))

	if got, want := ConfigPath(), filepath.Join(base, "config", "inkbridge", "config.toml"); got != want {
		t.Errorf("ConfigPath() = %s, want %s", got, want)
	}
	if got, want := DefaultConfig().Editor.WorkDir, filepath.Join(base, "cache", "inkbridge", "media"); got != want {
		t.Errorf("work dir = %s, want %s", got, want)
	}
	if got, want := DefaultConfig().Bridge.SocketPath, filepath.Join(base, "run", "inkbridge", "inkbridge.sock"); got != want {
		t.Errorf("socket path = %s, want %s", got, want)
	}
}
