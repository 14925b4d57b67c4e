package daemon

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsJob(t *testing.T) {
	// Given: a job scheduled every second
	s := NewScheduler(discardLogger())
	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	// When: the scheduler runs
	s.Start()
	defer s.Stop(time.Second)

	// Then: the job runs and its last run is recorded
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := s.LastRun("tick")
		return ok
	}, time.Second, 10*time.Millisecond)
	next, ok := s.Next("tick")
	assert.True(t, ok)
	assert.True(t, next.After(time.Now().Add(-time.Second)))
}

func TestScheduler_RejectsDuplicateAndInvalid(t *testing.T) {
	s := NewScheduler(discardLogger())
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("job", "@every 1m", noop))
	assert.Error(t, s.Add("job", "@every 1m", noop))
	assert.Error(t, s.Add("other", "not a spec", noop))

	_, ok := s.Next("unknown")
	assert.False(t, ok)
}

func TestScheduler_SurvivesPanicsAndErrors(t *testing.T) {
	s := NewScheduler(discardLogger())
	var calls atomic.Int32
	require.NoError(t, s.Add("flaky", "@every 1s", func(context.Context) error {
		if calls.Add(1) == 1 {
			panic("first run explodes")
		}
		return errors.New("still failing")
	}))

	s.Start()
	defer s.Stop(time.Second)

	// Every run after the panic still fires.
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, 5*time.Second, 20*time.Millisecond)
}

func TestScheduler_DelaysOverlappingRuns(t *testing.T) {
	// Given: a job that takes longer than its interval
	s := NewScheduler(discardLogger())
	var running, peak, calls atomic.Int32
	require.NoError(t, s.Add("slow", "@every 1s", func(context.Context) error {
		n := running.Add(1)
		defer running.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		calls.Add(1)
		time.Sleep(1200 * time.Millisecond)
		return nil
	}))

	// When: several ticks come due
	s.Start()
	defer s.Stop(3 * time.Second)
	require.Eventually(t, func() bool { return calls.Load() >= 2 }, 6*time.Second, 20*time.Millisecond)

	// Then: runs are serialized instead of skipped or overlapped
	assert.Equal(t, int32(1), peak.Load())
}

func TestScheduler_StopCancelsJobContext(t *testing.T) {
	s := NewScheduler(discardLogger())
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.Add("long", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop(2 * time.Second)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled")
	}
}
