package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, New(client, cfg)
}

func TestLimiterBudget(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 3, Cooldown: time.Minute})
	ctx := context.Background()

	if err := l.Check(ctx, "alice", ""); err != nil {
		t.Fatalf("fresh identifier should pass: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := l.Increment(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}
	if err := l.Increment(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited on overflow, got %v", err)
	}
	if err := l.Check(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected Check to report the spent budget, got %v", err)
	}

	// Other identifiers are unaffected.
	if err := l.Check(ctx, "bob", ""); err != nil {
		t.Fatalf("unrelated identifier limited: %v", err)
	}
}

func TestLimiterIPThrottle(t *testing.T) {
	_, l := newTestLimiter(t, Config{EnableIPThrottle: true, MaxAttempts: 2, Cooldown: time.Minute})
	ctx := context.Background()

	// Different identifiers from the same address share the IP budget.
	for i, id := range []string{"a", "b"} {
		if err := l.Increment(ctx, id, "10.0.0.9"); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}
	if err := l.Increment(ctx, "c", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected IP budget exhausted, got %v", err)
	}
	if err := l.Check(ctx, "fresh", "10.0.0.9"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected Check to enforce the IP budget, got %v", err)
	}
}

func TestLimiterReset(t *testing.T) {
	_, l := newTestLimiter(t, Config{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.Increment(ctx, "alice", "")
	_ = l.Increment(ctx, "alice", "")
	if err := l.Check(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited before reset, got %v", err)
	}

	if err := l.Reset(ctx, "alice", ""); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if err := l.Check(ctx, "alice", ""); err != nil {
		t.Fatalf("expected clean budget after reset: %v", err)
	}

	n, err := l.Attempts(ctx, "alice")
	if err != nil || n != 0 {
		t.Fatalf("expected zero attempts after reset, got n=%d err=%v", n, err)
	}
}

func TestLimiterWindowExpiry(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_ = l.Increment(ctx, "alice", "")
	_ = l.Increment(ctx, "alice", "")
	if err := l.Check(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited, got %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if err := l.Check(ctx, "alice", ""); err != nil {
		t.Fatalf("expected budget back after the window, got %v", err)
	}
}

func TestLimiterUnavailable(t *testing.T) {
	mr, l := newTestLimiter(t, Config{MaxAttempts: 1, Cooldown: time.Minute})
	mr.Close()

	if err := l.Increment(context.Background(), "alice", ""); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
