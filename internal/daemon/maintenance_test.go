package daemon

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/internal/app"
)

func fastMaintenance() MaintenanceConfig {
	return MaintenanceConfig{Enabled: true, IdleTimeout: 30 * time.Millisecond, Cooldown: time.Hour}
}

func TestMaintenance_RunsWhenIdle(t *testing.T) {
	// Given: a manager whose check reports one orphan
	var calls atomic.Int32
	m := NewMaintenanceManager(fastMaintenance(), func(context.Context) ([]app.CheckResult, error) {
		calls.Add(1)
		return []app.CheckResult{{Index: "content", Orphans: 1, Repaired: 1}}, nil
	}, discardLogger())

	// When: the daemon stays idle
	m.Start(context.Background())
	defer m.Stop()

	// Then: one check runs and its result is kept
	require.Eventually(t, func() bool {
		last, _ := m.LastCheck()
		return !last.IsZero()
	}, 2*time.Second, 10*time.Millisecond)
	_, results := m.LastCheck()
	assert.Equal(t, []app.CheckResult{{Index: "content", Orphans: 1, Repaired: 1}}, results)

	// And: the cooldown blocks a second run
	m.OnActivity()
	time.Sleep(100 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
}

func TestMaintenance_ActivityInterruptsCheck(t *testing.T) {
	// Given: a check that blocks until cancelled
	started := make(chan struct{}, 1)
	interrupted := make(chan struct{}, 1)
	m := NewMaintenanceManager(fastMaintenance(), func(ctx context.Context) ([]app.CheckResult, error) {
		started <- struct{}{}
		<-ctx.Done()
		interrupted <- struct{}{}
		return nil, ctx.Err()
	}, discardLogger())
	m.Start(context.Background())
	defer m.Stop()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("check never started")
	}

	// When: a request arrives
	m.OnActivity()

	// Then: the check is cancelled without recording a result
	select {
	case <-interrupted:
	case <-time.After(2 * time.Second):
		t.Fatal("check not interrupted")
	}
	last, _ := m.LastCheck()
	assert.True(t, last.IsZero())
}

func TestMaintenance_Disabled(t *testing.T) {
	var calls atomic.Int32
	cfg := fastMaintenance()
	cfg.Enabled = false
	m := NewMaintenanceManager(cfg, func(context.Context) ([]app.CheckResult, error) {
		calls.Add(1)
		return nil, nil
	}, discardLogger())

	m.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	assert.Zero(t, calls.Load())
}

func TestMaintenance_StopIsIdempotent(t *testing.T) {
	m := NewMaintenanceManager(fastMaintenance(), func(context.Context) ([]app.CheckResult, error) {
		return nil, nil
	}, discardLogger())
	m.Start(context.Background())

	m.Stop()
	m.Stop()
}
