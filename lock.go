package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"
)

// errRootLocked is returned when another treesync process holds the lock of
// the same install root.
var errRootLocked = errors.New("another treesync apply is running on this root")

// lockAttempts bounds how often acquireRootLock reopens a lock file that was
// unlinked between its open and its flock.
const lockAttempts = 5

// rootLock is an exclusive flock on a per-root file holding the owner's PID.
// The kernel drops the lock when the process dies, so a stale file left by
// a crash never blocks the next apply.
type rootLock struct {
	f    *os.File
	path string
}

// rootLockPath names the lock file of root by a name-based UUID of its
// cleaned absolute path.
func rootLockPath(lockDir, root string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte("file://"+filepath.ToSlash(filepath.Clean(root))))
	return filepath.Join(lockDir, id.String()+".pid")
}

// acquireRootLock takes the apply lock of root without blocking. When the
// lock is held, the error wraps errRootLocked and names the holder's PID
// if it can be read.
func acquireRootLock(lockDir, root string) (*rootLock, error) {
	if lockDir == "" {
		return nil, errors.New("lock directory unknown: cannot determine data directory")
	}

	if err := os.MkdirAll(lockDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	path := rootLockPath(lockDir, root)

	for range lockAttempts {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
		if err != nil {
			return nil, fmt.Errorf("opening lock file: %w", err)
		}

		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			f.Close()

			if pid, readErr := lockHolder(path); readErr == nil {
				return nil, fmt.Errorf("%w (pid %d, lock %s)", errRootLocked, pid, path)
			}

			return nil, fmt.Errorf("%w (lock %s)", errRootLocked, path)
		}

		// The previous holder unlinks the file before closing it, so the
		// lock just taken may be on a file no longer reachable at path.
		linked, err := stillLinked(f, path)
		if err != nil {
			f.Close()
			return nil, err
		}

		if !linked {
			f.Close()
			continue
		}

		l := &rootLock{f: f, path: path}

		if err := l.writePID(); err != nil {
			l.Release()
			return nil, err
		}

		return l, nil
	}

	return nil, fmt.Errorf("%w (lock %s keeps being replaced)", errRootLocked, path)
}

// stillLinked reports whether path still names the file open as f.
func stillLinked(f *os.File, path string) (bool, error) {
	held, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("stat lock file: %w", err)
	}

	current, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("stat lock file: %w", err)
	}

	return os.SameFile(held, current), nil
}

func (l *rootLock) writePID() error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing lock file: %w", err)
	}

	// Flushed so a blocked process can report who holds the lock.
	return l.f.Sync()
}

// Release removes the lock file and drops the lock. A process that opened
// the file before the removal notices through stillLinked and reopens.
func (l *rootLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

// lockHolder reads the PID recorded in a lock file.
func lockHolder(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
