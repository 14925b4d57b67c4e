package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrNotRunning is returned when no live daemon is recorded in a PID file.
var ErrNotRunning = errors.New("daemon is not running")

const probeInterval = 100 * time.Millisecond

// WritePID records the current process in the file at path. The file is
// replaced atomically so readers never see a partial PID.
func WritePID(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create pid directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPID returns the PID stored at path, or ErrNotRunning when the file
// does not exist.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNotRunning
	}
	if err != nil {
		return 0, fmt.Errorf("read pid file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in file %s", path)
	}
	return pid, nil
}

// RunningPID returns the recorded PID if that process is alive.
func RunningPID(path string) (int, bool) {
	pid, err := ReadPID(path)
	if err != nil || !alive(pid) {
		return 0, false
	}
	return pid, true
}

// RemovePID deletes the file at path if it records the current process.
// A late-exiting daemon must not remove the file of its successor.
func RemovePID(path string) error {
	pid, err := ReadPID(path)
	switch {
	case errors.Is(err, ErrNotRunning):
		return nil
	case err == nil && pid != os.Getpid():
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}

// Terminate asks pid to exit with SIGTERM and waits up to grace. A process
// still alive after grace is sent SIGKILL, and killed reports that.
func Terminate(ctx context.Context, pid int, grace time.Duration) (killed bool, err error) {
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return false, nil
		}
		return false, fmt.Errorf("signal %d: %w", pid, err)
	}
	if waitExit(ctx, pid, grace) {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return false, fmt.Errorf("kill %d: %w", pid, err)
	}
	return true, nil
}

// waitExit polls until pid is gone, grace elapses or ctx ends.
func waitExit(ctx context.Context, pid int, grace time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()
	tick := time.NewTicker(probeInterval)
	defer tick.Stop()
	for alive(pid) {
		select {
		case <-ctx.Done():
			return !alive(pid)
		case <-tick.C:
		}
	}
	return true
}

// alive probes pid with signal 0. EPERM means it exists under another user.
func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
