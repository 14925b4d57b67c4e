package daemon

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstanceLock_SecondAcquireFails(t *testing.T) {
	// Given: a lock held by one instance
	path := filepath.Join(t.TempDir(), "daemon.lock")
	first := NewInstanceLock(path)
	require.NoError(t, first.Acquire())
	t.Cleanup(func() { _ = first.Release() })

	// When: a second instance tries the same file
	err := NewInstanceLock(path).Acquire()

	// Then: it is told a daemon is already running
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestInstanceLock_ReleaseAllowsReacquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "daemon.lock")
	first := NewInstanceLock(path)
	require.NoError(t, first.Acquire())
	require.NoError(t, first.Release())

	second := NewInstanceLock(path)
	require.NoError(t, second.Acquire())
	assert.NoError(t, second.Release())
	assert.NoError(t, second.Release(), "double release is a no-op")
}
