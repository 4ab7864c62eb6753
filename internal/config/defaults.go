package config

// DefaultIgnoreMarker is the file name that excludes its directory from scans.
const DefaultIgnoreMarker = ".treesyncignore"

// DefaultConfig returns the built-in settings. Load decodes the config file
// over this value, so keys the file omits keep these defaults.
func DefaultConfig() *Config {
	return &Config{
		FilterConfig: FilterConfig{IgnoreMarker: DefaultIgnoreMarker},
		TransfersConfig: TransfersConfig{
			ParallelDownloads: 8,
			ParallelCheckers:  8,
			BandwidthLimit:    "0",
			TransferOrder:     "default",
		},
		SafetyConfig: SafetyConfig{
			BigDeleteThreshold: 1000,
			VerifyDownloads:    true,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  "info",
			LogFormat: "auto",
		},
	}
}
