package daemon

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/amansearch/internal/app"
)

// MaintenanceConfig controls background consistency checks.
type MaintenanceConfig struct {
	// Enabled turns idle checks on.
	Enabled bool

	// IdleTimeout is how long the daemon must see no requests before a
	// check starts. Default: 30s
	IdleTimeout time.Duration

	// Cooldown is the minimum time between two completed checks.
	// Default: 1h
	Cooldown time.Duration

	// Repair fixes orphaned and missing items found by a check.
	Repair bool
}

// DefaultMaintenanceConfig returns the default maintenance settings.
func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		Enabled:     true,
		IdleTimeout: 30 * time.Second,
		Cooldown:    time.Hour,
		Repair:      true,
	}
}

// CheckFunc checks, and possibly repairs, every index.
type CheckFunc func(ctx context.Context) ([]app.CheckResult, error)

// MaintenanceManager runs consistency checks while the daemon is idle.
//
// A check starts when:
//  1. No request arrived for IdleTimeout
//  2. Cooldown elapsed since the last completed check
//  3. No other check is running
//
// Any request interrupts a running check; it is retried on the next idle
// period.
type MaintenanceManager struct {
	config MaintenanceConfig
	check  CheckFunc
	logger *slog.Logger

	mu         sync.Mutex
	idleTimer  *time.Timer
	lastCheck  time.Time
	lastResult []app.CheckResult
	running    bool
	cancelRun  context.CancelFunc

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewMaintenanceManager creates a manager running check.
func NewMaintenanceManager(cfg MaintenanceConfig, check CheckFunc, logger *slog.Logger) *MaintenanceManager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Second
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MaintenanceManager{config: cfg, check: check, logger: logger}
}

// Start arms the idle timer.
func (m *MaintenanceManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	m.logger.Debug("maintenance_started",
		slog.Bool("enabled", m.config.Enabled),
		slog.Duration("idle_timeout", m.config.IdleTimeout),
		slog.Duration("cooldown", m.config.Cooldown))
	m.OnActivity()
}

// Stop cancels any running check and waits for it to return.
func (m *MaintenanceManager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		if m.cancel != nil {
			m.cancel()
		}
		if m.idleTimer != nil {
			m.idleTimer.Stop()
		}
		if m.cancelRun != nil {
			m.cancelRun()
		}
		m.mu.Unlock()
		m.wg.Wait()
	})
}

// OnActivity records a request: a running check is interrupted and the
// idle timer restarts.
func (m *MaintenanceManager) OnActivity() {
	if !m.config.Enabled {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx == nil || m.ctx.Err() != nil {
		return
	}
	if m.running && m.cancelRun != nil {
		m.logger.Debug("maintenance_interrupted")
		m.cancelRun()
	}
	if m.idleTimer != nil {
		m.idleTimer.Stop()
	}
	m.idleTimer = time.AfterFunc(m.config.IdleTimeout, m.onIdle)
}

// LastCheck returns when the last check completed and what it found.
func (m *MaintenanceManager) LastCheck() (time.Time, []app.CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCheck, m.lastResult
}

func (m *MaintenanceManager) onIdle() {
	m.mu.Lock()
	if m.ctx.Err() != nil || m.running {
		m.mu.Unlock()
		return
	}
	if !m.lastCheck.IsZero() && time.Since(m.lastCheck) < m.config.Cooldown {
		m.logger.Debug("maintenance_skipped_cooldown",
			slog.Duration("remaining", m.config.Cooldown-time.Since(m.lastCheck)))
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.ctx)
	m.running = true
	m.cancelRun = cancel
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer cancel()
		m.run(ctx)
	}()
}

func (m *MaintenanceManager) run(ctx context.Context) {
	start := time.Now()
	results, err := m.check(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.cancelRun = nil
	if ctx.Err() != nil {
		// Interrupted; the next idle period retries.
		return
	}
	if err != nil {
		m.logger.Warn("maintenance_check_failed", slog.String("error", err.Error()))
		return
	}
	m.lastCheck = time.Now()
	m.lastResult = results
	for _, r := range results {
		if r.Orphans > 0 || r.Missing > 0 {
			m.logger.Info("maintenance_inconsistencies",
				slog.String("index", r.Index),
				slog.Int("orphans", r.Orphans),
				slog.Int("missing", r.Missing),
				slog.Int("repaired", r.Repaired))
		}
	}
	m.logger.Info("maintenance_check_complete",
		slog.Int("indexes", len(results)),
		slog.Duration("duration", time.Since(start)))
}
