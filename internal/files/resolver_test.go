package files

import (
	"log/slog"
	"maps"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testLogger returns a debug-level logger that writes to t.Log,
// so all activity appears in CI output.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(&testLogWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// testLogWriter adapts testing.T to io.Writer for slog.
type testLogWriter struct {
	t *testing.T
}

func (w *testLogWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))

	return len(p), nil
}

func rawSource(h Hash, size int64) FileSource {
	return FileSource{Compression: CompressionRaw, Hash: h, URL: "http://example.test/" + string(h), Size: size}
}

// withFile adds a file and a matching raw source.
func withFile(pkg *Package, p Path, h Hash, size int64, exec bool) {
	pkg.AddFile(p, File{Hash: h, Size: size, Executable: exec})
	pkg.AddSource(h, rawSource(h, size))
}

// simulate applies ops to a copy of pkg the way an executor would and
// returns the resulting tree (sources are taken from target).
func simulate(t *testing.T, pkg *Package, ops *UpdateOperations, target *Package) *Package {
	t.Helper()
	require.True(t, ops.Valid(), "cannot simulate invalid plan: %v", ops.Err())

	out := NewPackage()
	maps.Copy(out.Folders, pkg.Folders)
	maps.Copy(out.Files, pkg.Files)
	maps.Copy(out.Symlinks, pkg.Symlinks)
	maps.Copy(out.Sources, target.Sources)

	for _, p := range ops.Deletes {
		delete(out.Files, p)
		delete(out.Symlinks, p)
	}

	for _, p := range ops.Rmdirs {
		delete(out.Folders, p)
	}

	for _, p := range ops.Mkdirs {
		out.AddFolder(p)
	}

	for _, d := range ops.Downloads {
		delete(out.Symlinks, d.Path)
		out.AddFile(d.Path, File{Hash: d.Hash, Size: d.Size, Executable: d.Executable})
	}

	for _, l := range ops.Mklinks {
		delete(out.Files, l.Path)
		out.AddLink(l.Path, l.Target)
	}

	for _, fix := range ops.ExecutableFixes {
		f := out.Files[fix.Path]
		f.Executable = fix.Executable
		out.Files[fix.Path] = f
	}

	return out
}

func assertSameTree(t *testing.T, want, got *Package) {
	t.Helper()

	assert.Equal(t, want.Folders, got.Folders)
	assert.Equal(t, want.Files, got.Files)
	assert.Equal(t, want.Symlinks, got.Symlinks)
}

// sampleTrees returns two overlapping snapshots that exercise every branch.
func sampleTrees() (a, b *Package) {
	a = NewPackage()
	a.AddFolder("bin")
	a.AddFolder("lib")
	a.AddFolder("lib/old")
	a.AddFolder("lib/old/deep")
	withFile(a, "bin/java", "h-java-1", 10, true)
	withFile(a, "bin/keytool", "h-keytool", 20, false)
	withFile(a, "lib/old/deep/x.so", "h-x", 30, false)
	withFile(a, "lib/same", "h-same", 5, false)
	withFile(a, "becomes-link", "h-bl", 7, false)
	a.AddLink("becomes-file", "lib/same")
	a.AddLink("lib/current", "old")
	a.AddLink("stale-link", "nowhere")

	b = NewPackage()
	b.AddFolder("bin")
	b.AddFolder("lib")
	b.AddFolder("lib/new")
	b.AddFolder("conf")
	withFile(b, "bin/java", "h-java-2", 12, true)
	withFile(b, "bin/keytool", "h-keytool", 20, true)
	withFile(b, "lib/same", "h-same", 5, false)
	withFile(b, "lib/new/y.so", "h-y", 40, false)
	withFile(b, "becomes-file", "h-bf", 3, false)
	b.AddFile("conf/empty.properties", File{Hash: EmptyHash, Executable: true})
	b.AddLink("becomes-link", "lib/same")
	b.AddLink("lib/current", "new")

	return a, b
}

func TestResolve_Scenario1_NewFolderAndFile(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	b := NewPackage()
	b.AddFolder("x")
	b.AddFile("x/f", File{Hash: "H", Size: 10})
	b.AddSource("H", FileSource{Compression: CompressionRaw, Hash: "H", URL: "http://u", Size: 10})

	ops := NewResolver(testLogger(t)).Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Equal(t, []Path{"x"}, ops.Mkdirs)
	require.Len(t, ops.Downloads, 1)
	assert.Equal(t, Path("x/f"), ops.Downloads[0].Path)
	assert.Equal(t, "http://u", ops.Downloads[0].Source.URL)
	assert.False(t, ops.Downloads[0].Executable)
	assert.Empty(t, ops.Deletes)
	assert.Empty(t, ops.Rmdirs)
	assert.Empty(t, ops.Mklinks)
	assert.Empty(t, ops.ExecutableFixes)
	assert.Equal(t, int64(10), ops.DownloadBytes())
}

func TestResolve_Scenario2_ExecutableBitOnly(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	withFile(a, "f", "H1", 4, false)

	b := NewPackage()
	withFile(b, "f", "H1", 4, true)

	ops := NewResolver(testLogger(t)).Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Equal(t, []ExecutableFix{{Path: "f", Executable: true}}, ops.ExecutableFixes)
	assert.Empty(t, ops.Downloads)
	assert.Equal(t, 1, ops.TotalActions())
}

func TestResolve_Scenario3_Delete(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	withFile(a, "f", "H1", 4, false)

	ops := NewResolver(testLogger(t)).Resolve(a, NewPackage())
	require.True(t, ops.Valid())

	assert.Equal(t, []Path{"f"}, ops.Deletes)
	assert.Equal(t, 1, ops.TotalActions())
}

func TestResolve_Scenario4_SymlinkRetarget(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	a.AddLink("l", "tgt1")

	b := NewPackage()
	b.AddLink("l", "tgt2")

	ops := NewResolver(testLogger(t)).Resolve(a, b)
	require.True(t, ops.Valid())

	// Links are replaced in place: no separate delete.
	assert.Empty(t, ops.Deletes)
	assert.Equal(t, []Link{{Path: "l", Target: "tgt2"}}, ops.Mklinks)
	assertSameTree(t, b, simulate(t, a, ops, b))
}

func TestResolve_ChangedContentOverwritesInPlace(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	withFile(a, "f", "H1", 4, false)

	b := NewPackage()
	withFile(b, "f", "H2", 8, true)

	ops := Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Empty(t, ops.Deletes)
	assert.Empty(t, ops.ExecutableFixes, "a download carries the new bit")
	require.Len(t, ops.Downloads, 1)
	assert.Equal(t, Hash("H2"), ops.Downloads[0].Hash)
	assert.True(t, ops.Downloads[0].Executable)
}

func TestResolve_KindChanges(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	withFile(a, "file-to-link", "H1", 1, false)
	a.AddLink("link-to-file", "x")

	b := NewPackage()
	b.AddLink("file-to-link", "y")
	withFile(b, "link-to-file", "H2", 2, false)

	ops := Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Equal(t, []Path{"file-to-link", "link-to-file"}, ops.Deletes)
	assert.Equal(t, []Link{{Path: "file-to-link", Target: "y"}}, ops.Mklinks)
	require.Len(t, ops.Downloads, 1)
	assert.Equal(t, Path("link-to-file"), ops.Downloads[0].Path)
	assertSameTree(t, b, simulate(t, a, ops, b))
}

func TestResolve_FolderBecomesFile(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	a.AddFolder("x")

	b := NewPackage()
	withFile(b, "x", "H", 3, false)

	ops := Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Equal(t, []Path{"x"}, ops.Rmdirs)
	require.Len(t, ops.Downloads, 1)
	assertSameTree(t, b, simulate(t, a, ops, b))

	back := Resolve(b, a)
	require.True(t, back.Valid())
	assert.Equal(t, []Path{"x"}, back.Deletes)
	assert.Equal(t, []Path{"x"}, back.Mkdirs)
}

func TestResolve_FolderOrdering(t *testing.T) {
	t.Parallel()

	a := NewPackage()
	for _, p := range []Path{"old", "old/a", "old/a/b", "old-sibling", "keep"} {
		a.AddFolder(p)
	}

	b := NewPackage()
	for _, p := range []Path{"new/a/b", "new", "keep", "new/a", "new-sibling"} {
		b.AddFolder(p)
	}

	ops := Resolve(a, b)
	require.True(t, ops.Valid())

	assert.Equal(t, []Path{"new", "new/a", "new/a/b", "new-sibling"}, ops.Mkdirs)
	assert.Equal(t, []Path{"old-sibling", "old/a/b", "old/a", "old"}, ops.Rmdirs)
}

func TestResolve_EmptyHashNeedsNoSource(t *testing.T) {
	t.Parallel()

	b := NewPackage()
	b.AddFile("empty", File{Hash: EmptyHash, Executable: true})

	ops := Resolve(NewPackage(), b)
	require.True(t, ops.Valid())
	require.Len(t, ops.Downloads, 1)

	d := ops.Downloads[0]
	assert.True(t, d.IsEmpty())
	assert.True(t, d.Executable)
	assert.Empty(t, d.Source.URL)
	assert.Equal(t, int64(0), ops.DownloadBytes())
}

func TestResolve_MissingSourceIsFlagged(t *testing.T) {
	t.Parallel()

	b := NewPackage()
	b.AddFile("orphan", File{Hash: "nosource", Size: 9})
	withFile(b, "ok", "H", 1, false)

	ops := NewResolver(testLogger(t)).Resolve(NewPackage(), b)

	assert.False(t, ops.Valid())
	assert.True(t, ops.Empty())
	assert.Equal(t, []MissingSource{{Path: "orphan", Hash: "nosource"}}, ops.Missing)
	assert.ErrorIs(t, ops.Err(), ErrMissingSource)

	var missingErr *MissingSourceError
	require.ErrorAs(t, ops.Err(), &missingErr)
	assert.Len(t, missingErr.Missing, 1)

	// The rest of the plan is still reported.
	require.Len(t, ops.Downloads, 1)
	assert.Equal(t, Path("ok"), ops.Downloads[0].Path)
}

func TestResolve_InvalidInput(t *testing.T) {
	t.Parallel()

	valid := NewPackage()
	withFile(valid, "f", "H", 1, false)

	broken := NewPackage()
	broken.AddFolder("x")
	broken.AddFile("x", File{Hash: "H"})

	cases := map[string][2]*Package{
		"nil from":     {nil, valid},
		"nil to":       {valid, nil},
		"invalid from": {broken, valid},
		"invalid to":   {valid, broken},
	}

	for name, in := range cases {
		ops := Resolve(in[0], in[1])

		assert.False(t, ops.Valid(), name)
		assert.True(t, ops.Empty(), name)
		assert.Equal(t, 0, ops.TotalActions(), name)
		assert.Empty(t, ops.Missing, name)
		assert.ErrorIs(t, ops.Err(), ErrInvalidPackage, name)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	t.Parallel()

	a, b := sampleTrees()

	for _, pkg := range []*Package{NewPackage(), a, b} {
		ops := Resolve(pkg, pkg)
		assert.True(t, ops.Valid())
		assert.True(t, ops.Empty())
		assert.NoError(t, ops.Err())
	}
}

func TestResolve_Deterministic(t *testing.T) {
	t.Parallel()

	a, b := sampleTrees()
	first := Resolve(a, b)

	for range 20 {
		assert.Equal(t, first, Resolve(a, b))
	}
}

func TestResolve_SampleTreesPlan(t *testing.T) {
	t.Parallel()

	a, b := sampleTrees()
	ops := NewResolver(testLogger(t)).Resolve(a, b)
	require.True(t, ops.Valid(), "%v", ops.Err())

	assert.Equal(t, []Path{"becomes-file", "becomes-link", "lib/old/deep/x.so", "stale-link"}, ops.Deletes)
	assert.Equal(t, []Path{"lib/old/deep", "lib/old"}, ops.Rmdirs)
	assert.Equal(t, []Path{"conf", "lib/new"}, ops.Mkdirs)
	assert.Equal(t, []Link{
		{Path: "becomes-link", Target: "lib/same"},
		{Path: "lib/current", Target: "new"},
	}, ops.Mklinks)
	assert.Equal(t, []ExecutableFix{{Path: "bin/keytool", Executable: true}}, ops.ExecutableFixes)

	var downloaded []Path
	for _, d := range ops.Downloads {
		downloaded = append(downloaded, d.Path)
	}

	assert.Equal(t, []Path{"becomes-file", "bin/java", "conf/empty.properties", "lib/new/y.so"}, downloaded)
}

func TestResolve_RoundTrip(t *testing.T) {
	t.Parallel()

	a, b := sampleTrees()

	forward := Resolve(a, b)
	atB := simulate(t, a, forward, b)
	assertSameTree(t, b, atB)
	assert.True(t, Resolve(atB, b).Empty(), "applying the plan reaches the target")

	backward := Resolve(atB, a)
	atA := simulate(t, atB, backward, a)
	assertSameTree(t, a, atA)
	assert.True(t, Resolve(atA, a).Empty(), "round trip is a no-op")
}

func TestResolver_NilLoggerIsSafe(t *testing.T) {
	t.Parallel()

	a, b := sampleTrees()
	assert.NotPanics(t, func() {
		NewResolver(nil).Resolve(a, b)
	})
}
