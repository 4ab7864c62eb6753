package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/treesync/internal/files"
)

const sampleManifest = `{
  "files": {
    "bin": {"type": "directory"},
    "bin/java": {
      "type": "file",
      "executable": true,
      "downloads": {
        "raw":  {"sha1": "aaaa", "size": 100, "url": "https://cdn.test/raw/aaaa"},
        "lzma": {"sha1": "bbbb", "size": 40,  "url": "https://cdn.test/lzma/bbbb"}
      }
    },
    "lib": {"type": "directory"},
    "lib/a.so": {
      "type": "file",
      "downloads": {"raw": {"sha1": "cccc", "size": 7, "url": "https://cdn.test/raw/cccc"}}
    },
    "lib/current": {"type": "link", "target": "a.so"},
    "release": {
      "type": "file",
      "downloads": {"raw": {"sha1": "da39a3ee5e6b4b0d3255bfef95601890afd80709", "size": 0, "url": ""}}
    }
  }
}`

func TestDecode_Sample(t *testing.T) {
	t.Parallel()

	pkg, err := Decode([]byte(sampleManifest))
	require.NoError(t, err)

	assert.Equal(t, []files.Path{"bin", "lib"}, pkg.SortedFolders())
	assert.Equal(t, map[files.Path]files.File{
		"bin/java": {Hash: "aaaa", Size: 100, Executable: true},
		"lib/a.so": {Hash: "cccc", Size: 7},
		"release":  {Hash: files.EmptyHash},
	}, pkg.Files)
	assert.Equal(t, map[files.Path]string{"lib/current": "a.so"}, pkg.Symlinks)

	// The smaller lzma payload is preferred for the java binary.
	src, ok := pkg.Source("aaaa")
	require.True(t, ok)
	assert.Equal(t, files.FileSource{
		Compression: files.CompressionLzma,
		Hash:        "bbbb",
		URL:         "https://cdn.test/lzma/bbbb",
		Size:        40,
	}, src)

	src, ok = pkg.Source("cccc")
	require.True(t, ok)
	assert.Equal(t, files.CompressionRaw, src.Compression)
}

func TestDecode_SharedContentKeepsSmallestSource(t *testing.T) {
	t.Parallel()

	data := `{"files": {
	  "a": {"type": "file", "downloads": {
	    "raw": {"sha1": "h", "size": 100, "url": "r1"},
	    "lzma": {"sha1": "l1", "size": 60, "url": "l1"}}},
	  "b": {"type": "file", "downloads": {
	    "raw": {"sha1": "h", "size": 100, "url": "r2"},
	    "lzma": {"sha1": "l2", "size": 30, "url": "l2"}}}
	}}`

	pkg, err := Decode([]byte(data))
	require.NoError(t, err)

	src, ok := pkg.Source("h")
	require.True(t, ok)
	assert.Equal(t, "l2", src.URL)
}

func TestDecode_IgnoresUnknownEncodings(t *testing.T) {
	t.Parallel()

	data := `{"files": {"a": {"type": "file", "downloads": {
	  "raw": {"sha1": "h", "size": 10, "url": "r"},
	  "zstd": {"sha1": "z", "size": 1, "url": "z"}}}}}`

	pkg, err := Decode([]byte(data))
	require.NoError(t, err)

	src, ok := pkg.Source("h")
	require.True(t, ok)
	assert.Equal(t, "r", src.URL)
}

func TestDecode_UnpublishedDownloadIsNotASource(t *testing.T) {
	t.Parallel()

	data := `{"files": {"a": {"type": "file", "downloads": {
	  "raw": {"sha1": "h", "size": 10, "url": ""}}}}}`

	pkg, err := Decode([]byte(data))
	require.NoError(t, err)

	assert.Equal(t, files.File{Hash: "h", Size: 10}, pkg.Files["a"])

	_, ok := pkg.Source("h")
	assert.False(t, ok)

	ops := files.Resolve(files.NewPackage(), pkg)
	assert.ErrorIs(t, ops.Err(), files.ErrMissingSource)
}

func TestDecode_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"malformed":    `{"files": `,
		"no files":     `{}`,
		"unknown type": `{"files": {"a": {"type": "socket"}}}`,
		"file without raw": `{"files": {"a": {"type": "file", "downloads": {
			"lzma": {"sha1": "x", "size": 1, "url": "u"}}}}}`,
		"raw without sha1": `{"files": {"a": {"type": "file", "downloads": {"raw": {"size": 1}}}}}`,
		"negative size":    `{"files": {"a": {"type": "file", "downloads": {"raw": {"sha1": "x", "size": -1}}}}}`,
		"link no target":   `{"files": {"a": {"type": "link"}}}`,
		"escaping path":    `{"files": {"../a": {"type": "directory"}}}`,
		"absolute path":    `{"files": {"/a": {"type": "directory"}}}`,
		"same location":    `{"files": {"a": {"type": "directory"}, "x/../a": {"type": "directory"}}}`,
		"folder and link":  `{"files": {"a": {"type": "directory"}, "a/": {"type": "link", "target": "b"}}}`,
		"partial file":     `{"files": {"a.partial": {"type": "file", "downloads": {"raw": {"sha1": "x", "size": 1}}}}}`,
		"partial link":     `{"files": {"b.PARTIAL": {"type": "link", "target": "a"}}}`,
	}

	for name, data := range tests {
		pkg, err := Decode([]byte(data))
		assert.ErrorIs(t, err, ErrInvalidManifest, name)
		assert.Nil(t, pkg, name)
	}
}

func TestDecode_PartialSuffixAllowedOnDirectories(t *testing.T) {
	t.Parallel()

	pkg, err := Decode([]byte(`{"files": {"cache.partial": {"type": "directory"}}}`))
	require.NoError(t, err)
	assert.Equal(t, files.KindFolder, pkg.Kind("cache.partial"))
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o600))

	pkg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 6, pkg.Len())

	_, err = LoadFile(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("nope"), 0o600))

	_, err = LoadFile(bad)
	assert.ErrorIs(t, err, ErrInvalidManifest)
	assert.Contains(t, err.Error(), "bad.json")
}

func TestEncode_RoundTrip(t *testing.T) {
	t.Parallel()

	pkg, err := Decode([]byte(sampleManifest))
	require.NoError(t, err)

	data, err := Encode(pkg, Options{})
	require.NoError(t, err)

	again, err := Decode(data)
	require.NoError(t, err)

	assert.Equal(t, pkg.Folders, again.Folders)
	assert.Equal(t, pkg.Files, again.Files)
	assert.Equal(t, pkg.Symlinks, again.Symlinks)
	assert.Equal(t, pkg.Sources, again.Sources)

	ops := files.Resolve(pkg, again)
	assert.True(t, ops.Valid())
	assert.True(t, ops.Empty())
}

func TestEncode_SynthesizesRawURL(t *testing.T) {
	t.Parallel()

	pkg := files.NewPackage()
	pkg.AddFolder("d")
	pkg.AddFile("d/f", files.File{Hash: "abc", Size: 3, Executable: true})

	data, err := Encode(pkg, Options{BaseURL: "https://mirror.test/objects/"})
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	src, ok := decoded.Source("abc")
	require.True(t, ok)
	assert.Equal(t, files.FileSource{
		Compression: files.CompressionRaw,
		Hash:        "abc",
		URL:         "https://mirror.test/objects/abc",
		Size:        3,
	}, src)
	assert.True(t, decoded.Files["d/f"].Executable)
}

func TestEncode_Deterministic(t *testing.T) {
	t.Parallel()

	pkg, err := Decode([]byte(sampleManifest))
	require.NoError(t, err)

	first, err := Encode(pkg, Options{BaseURL: "https://m"})
	require.NoError(t, err)

	for range 10 {
		again, err := Encode(pkg, Options{BaseURL: "https://m"})
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
}

func TestEncode_RejectsInvalidPackage(t *testing.T) {
	t.Parallel()

	_, err := Encode(nil, Options{})
	assert.ErrorIs(t, err, files.ErrInvalidPackage)
}
