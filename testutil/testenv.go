// Package testutil provides shared test environment helpers for E2E and
// integration tests. It depends only on stdlib so that E2E tests (which
// cannot import internal/) can use it.
package testutil

import (
	"crypto/sha1" //nolint:gosec // content addressing, not security
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Isolate points HOME and the XDG directories at fresh directories under
// tempRoot and clears treesync's environment overrides, so a test run can
// never read or write a real user's config, state, or locks.
func Isolate(tempRoot string) error {
	dirs := map[string]string{
		"HOME":            filepath.Join(tempRoot, "home"),
		"XDG_CONFIG_HOME": filepath.Join(tempRoot, "config"),
		"XDG_DATA_HOME":   filepath.Join(tempRoot, "data"),
	}

	for env, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}

		os.Setenv(env, dir)
	}

	for _, env := range []string{"TREESYNC_CONFIG", "TREESYNC_ROOT", "TREESYNC_MANIFEST"} {
		os.Unsetenv(env)
	}

	return nil
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}

// WriteTree creates the given files under dir. Keys are slash-separated
// relative paths; parent directories are created as needed.
func WriteTree(dir string, tree map[string]string) error {
	for rel, content := range tree {
		path := filepath.Join(dir, filepath.FromSlash(rel))

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}

		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}

	return nil
}

// StoreObjects copies every regular file under src into objects, named by
// the hex SHA-1 of its content: the layout treesync reads as a mirror.
func StoreObjects(src, objects string) error {
	if err := os.MkdirAll(objects, 0o755); err != nil {
		return err
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.Type().IsRegular() {
			return err
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		sum := sha1.Sum(data) //nolint:gosec // content addressing, not security

		return os.WriteFile(filepath.Join(objects, hex.EncodeToString(sum[:])), data, 0o644)
	})
}

// CopyFile copies src to dst with the given permissions.
func CopyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
