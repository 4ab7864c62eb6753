package config

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// ParseSize converts a size such as "10MB", "1.5 GiB" or "4096" to bytes.
// SI and IEC suffixes are both accepted and a bare number is bytes. Empty
// and "0" mean zero.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n > math.MaxInt64 {
		return 0, fmt.Errorf("invalid size %q: exceeds %d bytes", s, int64(math.MaxInt64))
	}

	return int64(n), nil
}

// ParseBandwidth converts a bandwidth limit such as "5MB/s" or "512KiB" to
// bytes per second. The "/s" suffix is optional. "0" means unlimited.
func ParseBandwidth(s string) (int64, error) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(s), "/s")

	n, err := ParseSize(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid bandwidth %q: %w", s, err)
	}

	return n, nil
}
