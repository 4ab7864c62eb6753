package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	t.Parallel()

	tests := map[string]int64{
		"":         0,
		"0":        0,
		"4096":     4096,
		"100B":     100,
		"1KB":      1000,
		"1KiB":     1024,
		"1.5 MiB":  1_572_864,
		"10mb":     10_000_000,
		"1GiB":     1_073_741_824,
		"2TB":      2_000_000_000_000,
		"  64MB  ": 64_000_000,
	}

	for input, want := range tests {
		got, err := ParseSize(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestParseSize_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"abc", "MB", "-1", "-5MB", "12 parsecs", "20EiB"} {
		_, err := ParseSize(input)
		require.Error(t, err, input)
		assert.Contains(t, err.Error(), "invalid size", input)
	}
}

func TestParseBandwidth(t *testing.T) {
	t.Parallel()

	tests := map[string]int64{
		"0":        0,
		"5MB/s":    5_000_000,
		"5MB":      5_000_000,
		"512KiB/s": 524_288,
		" 1GB/s ":  1_000_000_000,
	}

	for input, want := range tests {
		got, err := ParseBandwidth(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

func TestParseBandwidth_Invalid(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"fast", "-1MB/s", "MB/s"} {
		_, err := ParseBandwidth(input)
		require.Error(t, err, input)
		assert.Contains(t, err.Error(), "invalid bandwidth", input)
	}
}
