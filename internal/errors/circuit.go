package errors

import (
	"sync"
	"time"
)

// ErrBreakerOpen is returned by Breaker.Call while calls are being shed.
var ErrBreakerOpen = New(ErrCodeBackendUnavailable, "dependency disabled after repeated failures", nil)

// BreakerState is the mode of a Breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker sheds calls to an optional dependency, such as the Redis result
// cache, once it fails Threshold times in a row. After Cooldown one probe
// call is let through; its outcome closes or reopens the breaker.
type Breaker struct {
	Name      string
	Threshold int
	Cooldown  time.Duration

	now      func() time.Time
	mu       sync.Mutex
	failures int
	openedAt time.Time
}

// NewBreaker opens after five failures and probes again after 30s.
func NewBreaker(name string) *Breaker {
	return &Breaker{Name: name, Threshold: 5, Cooldown: 30 * time.Second, now: time.Now}
}

func (b *Breaker) stateLocked() BreakerState {
	switch {
	case b.failures < max(b.Threshold, 1):
		return BreakerClosed
	case b.now().Sub(b.openedAt) >= b.Cooldown:
		return BreakerHalfOpen
	default:
		return BreakerOpen
	}
}

// State returns the current mode.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

// Call runs fn unless the breaker is open, and records its outcome.
func (b *Breaker) Call(fn func() error) error {
	b.mu.Lock()
	if b.stateLocked() == BreakerOpen {
		b.mu.Unlock()
		return ErrBreakerOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		b.failures = 0
		return nil
	}
	b.failures++
	if b.failures >= max(b.Threshold, 1) {
		b.openedAt = b.now()
	}
	return err
}
