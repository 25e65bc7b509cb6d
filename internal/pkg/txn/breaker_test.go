package txn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(time.Second, 3)
	b.now = func() time.Time { return now }

	boom := errors.New("identity check failed")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Do(ctx, func(context.Context) error { return boom })
		if !errors.Is(err, boom) {
			t.Fatalf("attempt %d: expected underlying error, got %v", i+1, err)
		}
		now = now.Add(time.Second)
	}

	called := false
	err := b.Do(ctx, func(context.Context) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected short-circuit, got %v", err)
	}
	if called {
		t.Fatalf("open breaker must not call through")
	}
}

func TestBreakerResetsOnSuccessAfterCooloff(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(time.Second, 3)
	b.now = func() time.Time { return now }

	boom := errors.New("identity check failed")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Do(ctx, func(context.Context) error { return boom })
		now = now.Add(time.Second)
	}
	if b.Failures() != 3 {
		t.Fatalf("expected 3 failures, got %d", b.Failures())
	}

	now = now.Add(10 * time.Second)
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe after cooloff: %v", err)
	}
	if b.Failures() != 0 {
		t.Fatalf("success must reset failure count, got %d", b.Failures())
	}
}

func TestBreakerThrottlesToOneCallPerWindow(t *testing.T) {
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(time.Second, 3)
	b.now = func() time.Time { return now }

	ctx := context.Background()
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("first call: %v", err)
	}

	now = now.Add(200 * time.Millisecond)
	err := b.Do(ctx, func(context.Context) error { return nil })
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected throttle inside window, got %v", err)
	}

	now = now.Add(time.Second)
	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("call after window: %v", err)
	}
}
