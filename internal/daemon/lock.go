package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrAlreadyRunning is returned when another daemon holds the instance
// lock.
var ErrAlreadyRunning = errors.New("another daemon is running on this data directory")

// InstanceLock is a cross-process lock held for the lifetime of a daemon,
// so two daemons never write to the same database and indexes.
type InstanceLock struct {
	flock  *flock.Flock
	locked bool
}

// NewInstanceLock creates a lock on the file at path.
func NewInstanceLock(path string) *InstanceLock {
	return &InstanceLock{flock: flock.New(path)}
}

// Acquire takes the lock without blocking. Returns ErrAlreadyRunning when
// it is held elsewhere.
func (l *InstanceLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.flock.Path()), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *InstanceLock) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string { return l.flock.Path() }
