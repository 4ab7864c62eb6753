package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
)

const maxWorkers = 64

var (
	transferOrders = []string{"default", "size_asc", "size_desc", "name_asc", "name_desc"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"auto", "text", "json"}
)

// Validate checks the values that can be judged in isolation and reports
// every problem found, joined into one error.
func Validate(cfg *Config) error {
	errs := []error{
		inRange("parallel_downloads", cfg.ParallelDownloads, 1, maxWorkers),
		inRange("parallel_checkers", cfg.ParallelCheckers, 1, maxWorkers),
		oneOf("transfer_order", cfg.TransferOrder, transferOrders),
		oneOf("log_level", cfg.LogLevel, logLevels),
		oneOf("log_format", cfg.LogFormat, logFormats),
	}

	if _, err := ParseBandwidth(cfg.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	if cfg.BigDeleteThreshold < 0 {
		errs = append(errs, fmt.Errorf("big_delete_threshold: must not be negative (0 disables), got %d",
			cfg.BigDeleteThreshold))
	}

	if strings.ContainsAny(cfg.IgnoreMarker, `/\`) {
		errs = append(errs, fmt.Errorf("ignore_marker: must be a file name, got %q", cfg.IgnoreMarker))
	}

	for _, p := range slices.Concat(cfg.SkipFiles, cfg.SkipDirs) {
		if _, err := filepath.Match(p, ""); err != nil {
			errs = append(errs, fmt.Errorf("skip pattern %q: %w", p, err))
		}
	}

	return errors.Join(errs...)
}

// ValidateResolved runs Validate plus the checks that only make sense once
// environment and flag overrides have been applied.
func ValidateResolved(cfg *Config) error {
	errs := []error{Validate(cfg)}

	if cfg.Root != "" && !filepath.IsAbs(cfg.Root) {
		errs = append(errs, fmt.Errorf("root: must be absolute after expansion, got %q", cfg.Root))
	}

	if cfg.MirrorDir != "" && cfg.Root != "" && isWithin(cfg.MirrorDir, cfg.Root) {
		errs = append(errs, fmt.Errorf("mirror_dir: must not be inside root %q, got %q", cfg.Root, cfg.MirrorDir))
	}

	return errors.Join(errs...)
}

func inRange(key string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s: must be between %d and %d, got %d", key, lo, hi, v)
	}

	return nil
}

func oneOf(key, v string, allowed []string) error {
	if !slices.Contains(allowed, v) {
		return fmt.Errorf("%s: must be one of %s; got %q", key, strings.Join(allowed, ", "), v)
	}

	return nil
}

// isWithin reports whether path equals dir or lies below it.
func isWithin(path, dir string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil {
		return false
	}

	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
