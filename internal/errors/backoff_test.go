package errors

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Base: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestBackoff_RetriesUntilSuccess(t *testing.T) {
	// Given: an operation failing twice
	calls := 0
	fn := func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	// When: running it with three attempts
	err := fastBackoff(3).Do(context.Background(), fn)

	// Then: the third call succeeds
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestBackoff_ReturnsLastError(t *testing.T) {
	calls := 0
	err := fastBackoff(2).Do(context.Background(), func(context.Context) error {
		calls++
		return New(ErrCodeNetworkUnavailable, "redis down", nil)
	})

	assert.True(t, HasCode(err, ErrCodeNetworkUnavailable))
	assert.Equal(t, 2, calls)
}

func TestBackoff_StopsOnPermanentError(t *testing.T) {
	calls := 0
	err := fastBackoff(5).Do(context.Background(), func(context.Context) error {
		calls++
		return New(ErrCodeConfigInvalid, "bad dsn", nil)
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestBackoff_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	b := Backoff{Attempts: 5, Base: time.Hour, Max: time.Hour}

	err := b.Do(ctx, func(context.Context) error {
		calls++
		cancel()
		return errors.New("refused")
	})

	assert.EqualError(t, err, "refused")
	assert.Equal(t, 1, calls)
}

func TestBackoff_DelayGrowsAndCaps(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	for attempt, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second} {
		d := b.Delay(attempt)
		assert.GreaterOrEqual(t, d, want/2)
		assert.LessOrEqual(t, d, want)
	}
	assert.Zero(t, Backoff{}.Delay(3))
}
