package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/treesync/internal/files"
)

func TestPlanRows_FlagsCompressedDownloads(t *testing.T) {
	t.Parallel()

	ops := &files.UpdateOperations{
		Downloads: []files.FileDownload{
			{
				Path:   "raw",
				Hash:   "h-raw",
				Size:   2048,
				Source: files.FileSource{Compression: files.CompressionRaw, Hash: "h-raw", Size: 2048},
			},
			{
				Path:   "packed",
				Hash:   "h-packed",
				Size:   4096,
				Source: files.FileSource{Compression: files.CompressionLzma, Hash: "h-lzma", Size: 1024},
			},
			{
				Path:   "mirrored",
				Hash:   "h-mirrored",
				Size:   4096,
				Source: files.FileSource{Compression: files.CompressionLzma, Hash: "h-lzma2", Size: 1024},
			},
		},
	}

	mirror := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(mirror, "h-mirrored"), []byte("x"), 0o644))

	rows := planRows(ops, mirror)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{"download", "raw", "2.0 KiB"}, rows[0])
	assert.Equal(t, []string{"download", "packed", "4.0 KiB (lzma, 1.0 KiB), needs decompression"}, rows[1])
	assert.Equal(t, []string{"download", "mirrored", "4.0 KiB (lzma, 1.0 KiB)"}, rows[2])

	noMirror := planRows(ops, "")
	assert.Equal(t, "4.0 KiB (lzma, 1.0 KiB), needs decompression", noMirror[2][2])
}

func TestTargetPaths(t *testing.T) {
	t.Parallel()

	pkg := files.NewPackage()
	pkg.AddFolder("d")
	pkg.AddFile("d/f", files.File{Hash: files.EmptyHash})
	pkg.AddLink("l", "d/f")

	assert.Equal(t, map[files.Path]bool{"d": true, "d/f": true, "l": true}, targetPaths(pkg))
	assert.Empty(t, targetPaths(files.NewPackage()))
}
