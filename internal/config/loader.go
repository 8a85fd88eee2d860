package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// Loader owns the live configuration. After Watch it reloads the file on
// change and hands (old, new) pairs to OnChange callbacks.
type Loader struct {
	path     string
	config   *Config
	mu       sync.RWMutex
	watcher  *fsnotify.Watcher
	onChange []func(old, new *Config)
	ctx      context.Context
	cancel   context.CancelFunc
	errChan  chan error
	done     chan struct{}
}

// NewLoader returns a loader for path; "" means ConfigPath().
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		path:    path,
		errChan: make(chan error, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Path returns the watched file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides from the environment, and validates the file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

// Config returns the configuration last loaded successfully.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch starts reloading on file changes. Call Load first.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	// Watch the directory: editors replace the file on save.
	dir := filepath.Dir(l.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = watcher

	go l.watchLoop()

	return nil
}

func (l *Loader) watchLoop() {
	defer close(l.done)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-l.ctx.Done():
			return

		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}

			if filepath.Base(event.Name) != filepath.Base(l.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDelay, l.reload)

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.report(err)
		}
	}
}

func (l *Loader) report(err error) {
	select {
	case l.errChan <- err:
	default:
	}
}

// reload attempts to reload the configuration. An invalid file leaves the
// current configuration in place.
func (l *Loader) reload() {
	if l.ctx.Err() != nil {
		return
	}

	newCfg, err := Load(l.path)
	if err != nil {
		l.report(fmt.Errorf("reload config: %w", err))
		return
	}
	if err := newCfg.Validate(); err != nil {
		l.report(fmt.Errorf("validate new config: %w", err))
		return
	}

	l.mu.Lock()
	oldCfg := l.config
	l.config = newCfg
	callbacks := append([]func(old, new *Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
}

// OnChange registers a callback invoked with the previous and the new
// configuration after every successful reload.
func (l *Loader) OnChange(cb func(old, new *Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors delivers watch and reload failures. Only the oldest unread one
// is kept.
func (l *Loader) Errors() <-chan error {
	return l.errChan
}

// Close stops watching and waits for the watch goroutine.
func (l *Loader) Close() error {
	l.cancel()
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Close()
	<-l.done
	return err
}

type decodeFunc func(data []byte, cfg *Config) error

func decodeTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func decodeJSON(data []byte, cfg *Config) error { return json.Unmarshal(data, cfg) }

func decodeYAML(data []byte, cfg *Config) error { return yaml.Unmarshal(data, cfg) }

var decoders = map[string]decodeFunc{
	".toml": decodeTOML,
	".json": decodeJSON,
	".yaml": decodeYAML,
	".yml":  decodeYAML,
}

// loadConfigFromFile decodes path over the defaults. The extension picks
// the format; files without a known one are tried as TOML, JSON, then YAML.
// A missing file yields the defaults.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	if decode, ok := decoders[ext]; ok {
		cfg := DefaultConfig()
		if err := decode(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", strings.TrimPrefix(ext, "."), err)
		}
		return cfg, nil
	}

	for _, decode := range []decodeFunc{decodeTOML, decodeJSON, decodeYAML} {
		// Fresh defaults per attempt; a failed decode may have written fields.
		cfg := DefaultConfig()
		if decode(data, cfg) == nil {
			return cfg, nil
		}
	}
	return nil, errors.New("parse config: not TOML, JSON or YAML")
}

// LoadOrCreate loads the configuration from path, writing the defaults
// there first if the file does not exist.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}

	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}

	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}
