// Package daemon runs amansearch in the background: it serves searches
// over a Unix socket, indexes on a cron schedule, reloads watched
// datasource files and checks index consistency while idle.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Aman-CERP/amansearch/internal/config"
)

// Config holds configuration for the daemon service.
type Config struct {
	// SocketPath is the Unix domain socket path for IPC.
	SocketPath string

	// PIDPath is the file storing the daemon's process ID.
	PIDPath string

	// LockPath is the file locked while a daemon runs on the data
	// directory.
	LockPath string

	// Timeout bounds one client request. Default: 30s
	Timeout time.Duration

	// ShutdownGracePeriod is how long shutdown waits for running jobs.
	// Default: 10s
	ShutdownGracePeriod time.Duration

	// Schedule is the cron spec of periodic indexing. Empty disables it.
	Schedule string

	// Watch reloads datasource files when they change.
	Watch bool

	// WatchDebounce is the debounce window of the file watcher.
	WatchDebounce time.Duration

	Maintenance MaintenanceConfig
}

// DefaultConfig returns the defaults for a data directory.
func DefaultConfig(dataDir string) Config {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		dataDir = filepath.Join(home, ".amansearch")
	}
	return Config{
		SocketPath:          filepath.Join(dataDir, "daemon.sock"),
		PIDPath:             filepath.Join(dataDir, "daemon.pid"),
		LockPath:            filepath.Join(dataDir, "daemon.lock"),
		Timeout:             30 * time.Second,
		ShutdownGracePeriod: 10 * time.Second,
		Schedule:            "@every 5m",
		Watch:               true,
		WatchDebounce:       500 * time.Millisecond,
		Maintenance:         DefaultMaintenanceConfig(),
	}
}

// Validate checks that the configuration is valid.
func (c Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket path cannot be empty")
	}
	if c.PIDPath == "" {
		return fmt.Errorf("PID path cannot be empty")
	}
	if c.LockPath == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("shutdown grace period must be positive")
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("invalid schedule %q: %w", c.Schedule, err)
		}
	}
	return nil
}

// EnsureDir creates the directories of the socket, PID and lock files.
func (c Config) EnsureDir() error {
	for _, p := range []string{c.SocketPath, c.PIDPath, c.LockPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return fmt.Errorf("failed to create daemon directory: %w", err)
		}
	}
	return nil
}

// FromConfig derives the daemon settings of a loaded amansearch config.
func FromConfig(c *config.Config) Config {
	cfg := DefaultConfig(c.DataDir)
	cfg.Schedule = ""
	if c.Scheduler.Enabled {
		cfg.Schedule = c.Scheduler.Spec
	}
	cfg.Watch = c.Watch.Enabled
	if d, err := time.ParseDuration(c.Watch.Debounce); err == nil && d > 0 {
		cfg.WatchDebounce = d
	}
	return cfg
}
