package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff retries an operation with exponentially growing, jittered
// delays. It is used when dialing remote databases and Redis.
type Backoff struct {
	// Attempts is the total number of calls, including the first.
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultBackoff makes four attempts over roughly three seconds.
func DefaultBackoff() Backoff {
	return Backoff{Attempts: 4, Base: 250 * time.Millisecond, Max: 2 * time.Second}
}

// Delay returns the wait after the given failed attempt, counting from 0.
// The result lies in [d/2, d) where d is Base doubled per attempt and
// capped at Max.
func (b Backoff) Delay(attempt int) time.Duration {
	d := b.Base << min(attempt, 30)
	if d <= 0 || (b.Max > 0 && d > b.Max) {
		d = b.Max
	}
	if d <= 0 {
		return 0
	}
	half := d / 2
	return half + rand.N(half+1)
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// Errors that wrap a non-retryable *AmanError stop it immediately. The
// last error from fn is returned.
func (b Backoff) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := max(b.Attempts, 1)
	var err error
	for i := range attempts {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ae, ok := As(err); ok && !ae.Retryable() {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(b.Delay(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}
