// Package lockfile guards the managed root against a second process
// instance. The filesystem observer, the sparse index directory and the
// sync engine's temp+rename writes all assume a single writer per root, so
// startup takes an exclusive cross-platform file lock and refuses to run
// when another instance already holds it.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const lockName = ".kb.lock"

// Lock is an exclusive advisory lock on a directory.
type Lock struct {
	path  string
	flock *flock.Flock
}

// New creates a lock for dir. The lock file lives at <dir>/.kb.lock; its
// leading dot keeps the filesystem observer's ignore rules away from it.
func New(dir string) *Lock {
	path := filepath.Join(dir, lockName)
	return &Lock{path: path, flock: flock.New(path)}
}

// TryAcquire attempts the lock without blocking. It returns false when
// another process holds it.
func (l *Lock) TryAcquire() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", l.path, err)
	}
	return acquired, nil
}

// Release drops the lock. Safe to call when the lock was never acquired.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
