package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// appName names treesync's directory inside each platform location.
const appName = "treesync"

// File names inside the platform directories.
const (
	configFileName = "config.toml"
	stateFileName  = "state.db"
	lockDirName    = "locks"
)

// baseDir describes where one kind of per-user data lives outside macOS:
// the XDG variable that overrides it and the default path under home.
type baseDir struct {
	xdgVar   string
	fallback []string
}

var (
	configBase = baseDir{xdgVar: "XDG_CONFIG_HOME", fallback: []string{".config"}}
	dataBase   = baseDir{xdgVar: "XDG_DATA_HOME", fallback: []string{".local", "share"}}
)

// resolve returns the treesync directory for b under home. macOS keeps
// config and data together in ~/Library/Application Support.
func (b baseDir) resolve(goos, home string) string {
	if goos == "darwin" {
		return filepath.Join(home, "Library", "Application Support", appName)
	}

	if xdg := os.Getenv(b.xdgVar); xdg != "" {
		return filepath.Join(xdg, appName)
	}

	return filepath.Join(append(append([]string{home}, b.fallback...), appName)...)
}

func userDir(b baseDir) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return b.resolve(runtime.GOOS, home)
}

// DefaultConfigDir returns the directory holding config.toml:
// $XDG_CONFIG_HOME/treesync or ~/.config/treesync, and
// ~/Library/Application Support/treesync on macOS.
func DefaultConfigDir() string {
	return userDir(configBase)
}

// DefaultDataDir returns the directory holding the state database and lock
// files: $XDG_DATA_HOME/treesync or ~/.local/share/treesync, and
// ~/Library/Application Support/treesync on macOS.
func DefaultDataDir() string {
	return userDir(dataBase)
}

// DefaultConfigPath is the config file read when neither TREESYNC_CONFIG
// nor --config names one.
func DefaultConfigPath() string {
	return joinIfSet(DefaultConfigDir(), configFileName)
}

// DefaultLockDir returns the directory holding per-root apply lock files.
func DefaultLockDir() string {
	return joinIfSet(DefaultDataDir(), lockDirName)
}

// joinIfSet joins name onto dir, keeping "" when the home directory could
// not be determined.
func joinIfSet(dir, name string) string {
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, name)
}
