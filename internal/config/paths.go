package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "inkbridge"

func home() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

// xdg returns $env/inkbridge, or ~/fallback.../inkbridge when env is unset.
func xdg(env string, fallback ...string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(append(append([]string{home()}, fallback...), appName)...)
}

// windowsDir returns %env%\inkbridge\sub..., or the AppData default under
// the home directory.
func windowsDir(env, defaultSub string, sub ...string) string {
	base := os.Getenv(env)
	if base == "" {
		base = filepath.Join(home(), "AppData", defaultSub)
	}
	return filepath.Join(append([]string{base, appName}, sub...)...)
}

// PlatformDataDir is where the journal lives by default.
//
//   - macOS:   ~/Library/Application Support/inkbridge
//   - Linux:   $XDG_DATA_HOME/inkbridge or ~/.local/share/inkbridge
//   - Windows: %APPDATA%\inkbridge
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home(), "Library", "Application Support", appName)
	case "windows":
		return windowsDir("APPDATA", "Roaming")
	case "linux":
		return xdg("XDG_DATA_HOME", ".local", "share")
	default:
		return filepath.Join(home(), "."+appName)
	}
}

// PlatformCacheDir holds the media work directory.
func PlatformCacheDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home(), "Library", "Caches", appName)
	case "windows":
		return windowsDir("LOCALAPPDATA", "Local", "cache")
	case "linux":
		return xdg("XDG_CACHE_HOME", ".cache")
	default:
		return filepath.Join(home(), "."+appName, "cache")
	}
}

// PlatformConfigDir holds config.toml. macOS and Windows share it with the
// data directory.
func PlatformConfigDir() string {
	if runtime.GOOS == "linux" {
		return xdg("XDG_CONFIG_HOME", ".config")
	}
	return PlatformDataDir()
}

// PlatformLogDir is where file logging writes by default.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home(), "Library", "Logs", appName)
	case "windows":
		return windowsDir("LOCALAPPDATA", "Local", "logs")
	default:
		return filepath.Join(PlatformDataDir(), "logs")
	}
}

// PlatformRuntimeDir holds the bridge unix socket. It is empty on Windows,
// where only the websocket transport is offered.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return ""
	case "linux":
		if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
			return filepath.Join(dir, appName)
		}
	}
	return filepath.Join(os.TempDir(), appName+"-"+userID())
}

func userID() string {
	// Getuid is -1 on Windows.
	if uid := os.Getuid(); uid >= 0 {
		return strconv.Itoa(uid)
	}
	return "0"
}
