package config

import (
	"log/slog"
	"os"
)

// Environment variable names for overrides.
const (
	EnvConfig   = "TREESYNC_CONFIG"
	EnvRoot     = "TREESYNC_ROOT"
	EnvManifest = "TREESYNC_MANIFEST"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // TREESYNC_CONFIG: override config file path
	Root       string // TREESYNC_ROOT: install root
	Manifest   string // TREESYNC_MANIFEST: manifest file
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
// This does not modify a Config; Resolve applies the fields.
func ReadEnvOverrides(logger *slog.Logger) EnvOverrides {
	overrides := EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		Root:       os.Getenv(EnvRoot),
		Manifest:   os.Getenv(EnvManifest),
	}

	if logger != nil {
		logger.Debug("environment overrides read",
			slog.String("config_path", overrides.ConfigPath),
			slog.String("root", overrides.Root),
			slog.String("manifest", overrides.Manifest),
		)
	}

	return overrides
}
