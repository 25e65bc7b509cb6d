package txn

import (
	"context"
	"sync"
	"time"
)

// Breaker throttles a flaky dependency: at most one attempt per MinInterval,
// and after MaxFailures consecutive failures calls short-circuit to
// ErrUnavailable until the cool-off elapses and a probe succeeds.
type Breaker struct {
	mu          sync.Mutex
	minInterval time.Duration
	cooloff     time.Duration
	maxFailures int
	failures    int
	lastAttempt time.Time
	openUntil   time.Time
	now         func() time.Time
}

func NewBreaker(minInterval time.Duration, maxFailures int) *Breaker {
	if minInterval <= 0 {
		minInterval = time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 3
	}

	return &Breaker{
		minInterval: minInterval,
		cooloff:     5 * minInterval,
		maxFailures: maxFailures,
		now:         time.Now,
	}
}

func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	b.record(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	if now.Before(b.openUntil) {
		return ErrUnavailable
	}
	if !b.lastAttempt.IsZero() && now.Sub(b.lastAttempt) < b.minInterval {
		return ErrUnavailable
	}
	b.lastAttempt = now

	return nil
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		b.failures++
		if b.failures >= b.maxFailures {
			b.openUntil = b.now().Add(b.cooloff)
		}
		return
	}

	b.failures = 0
	b.openUntil = time.Time{}
}

// Failures exposes the consecutive-failure count for tests and metrics.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
