// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for treesync. Settings resolve through a
// four-layer override chain: defaults -> config file -> environment -> CLI
// flags.
package config

// Config is the top-level configuration parsed from a TOML file. All keys are
// flat; the embedded sections only group related fields in Go.
type Config struct {
	Root      string `toml:"root" json:"root"`
	Manifest  string `toml:"manifest" json:"manifest"`
	MirrorDir string `toml:"mirror_dir,omitempty" json:"mirror_dir"`
	StateDir  string `toml:"state_dir,omitempty" json:"state_dir"`

	FilterConfig
	TransfersConfig
	SafetyConfig
	LoggingConfig
}

// FilterConfig controls which local entries the scanner sees. Patterns are
// matched against entry names.
type FilterConfig struct {
	SkipFiles    []string `toml:"skip_files" json:"skip_files"`
	SkipDirs     []string `toml:"skip_dirs" json:"skip_dirs"`
	IgnoreMarker string   `toml:"ignore_marker" json:"ignore_marker"`
}

// TransfersConfig controls worker counts, download ordering, and the
// bandwidth cap.
type TransfersConfig struct {
	ParallelDownloads int    `toml:"parallel_downloads" json:"parallel_downloads"`
	ParallelCheckers  int    `toml:"parallel_checkers" json:"parallel_checkers"`
	BandwidthLimit    string `toml:"bandwidth_limit" json:"bandwidth_limit"`
	TransferOrder     string `toml:"transfer_order" json:"transfer_order"`
}

// SafetyConfig holds guards against destructive or corrupt installs.
type SafetyConfig struct {
	BigDeleteThreshold int  `toml:"big_delete_threshold" json:"big_delete_threshold"`
	VerifyDownloads    bool `toml:"verify_downloads" json:"verify_downloads"`
}

// LoggingConfig controls log output: level, destination, and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level" json:"log_level"`
	LogFile   string `toml:"log_file,omitempty" json:"log_file"`
	LogFormat string `toml:"log_format" json:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to the zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Root       *string // --root flag
	Manifest   *string // --manifest flag
	MirrorDir  *string // --mirror flag
}
