package config

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load decodes the TOML file at path over DefaultConfig and validates the
// result. Unknown keys are rejected with a suggestion for the nearest
// known key.
func Load(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return decode(path, data, logger)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string, logger *slog.Logger) (*Config, error) {
	data, err := os.ReadFile(path)

	switch {
	case errors.Is(err, fs.ErrNotExist):
		if logger != nil {
			logger.Debug("config: no file, using defaults", slog.String("path", path))
		}

		return DefaultConfig(), nil
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return decode(path, data, logger)
}

func decode(path string, data []byte, logger *slog.Logger) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if logger != nil {
		logger.Debug("config: file loaded",
			slog.String("path", path),
			slog.Int("keys", len(md.Keys())),
		)
	}

	return cfg, nil
}

// ConfigFile is the config file Resolve reads: --config wins over
// TREESYNC_CONFIG, which wins over the platform default.
func ConfigFile(env EnvOverrides, cli CLIOverrides) string {
	return cmp.Or(cli.ConfigPath, env.ConfigPath, DefaultConfigPath())
}

// Resolve builds the effective configuration. Each layer overrides the one
// before it: defaults, config file, environment, flags. "~/" prefixes are
// expanded and a relative root is made absolute against the working
// directory before the result is validated.
func Resolve(env EnvOverrides, cli CLIOverrides, logger *slog.Logger) (*Config, error) {
	cfg, err := LoadOrDefault(ConfigFile(env, cli), logger)
	if err != nil {
		return nil, err
	}

	cfg.Root = cmp.Or(env.Root, cfg.Root)
	cfg.Manifest = cmp.Or(env.Manifest, cfg.Manifest)

	setIfGiven(&cfg.Root, cli.Root)
	setIfGiven(&cfg.Manifest, cli.Manifest)
	setIfGiven(&cfg.MirrorDir, cli.MirrorDir)

	for _, p := range []*string{&cfg.Root, &cfg.Manifest, &cfg.MirrorDir, &cfg.StateDir, &cfg.LogFile} {
		*p = expandTilde(*p)
	}

	if cfg.Root != "" {
		if cfg.Root, err = filepath.Abs(cfg.Root); err != nil {
			return nil, fmt.Errorf("resolving root: %w", err)
		}
	}

	if err := ValidateResolved(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// setIfGiven copies a flag value over dst. A nil flag was not passed; an
// empty one was passed explicitly and clears the setting.
func setIfGiven(dst, flag *string) {
	if flag != nil {
		*dst = *flag
	}
}

// expandTilde replaces a leading "~/" with the home directory. The path is
// returned as is when the home directory is unknown.
func expandTilde(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, rest)
}

// StatePath returns the install-state database path: state_dir when set,
// otherwise the platform data directory.
func (c *Config) StatePath() string {
	return filepath.Join(cmp.Or(c.StateDir, DefaultDataDir()), stateFileName)
}
