package serviceclient

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock is a virtual clock for tests. Sleep advances the clock by the
// requested duration immediately and records it, so backoff and TTL behavior
// can be verified without real waiting.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return nil
}

func (f *fakeClock) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func TestRealClockSleepHonorsContext(t *testing.T) {
	clock := NewRealClock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := clock.Sleep(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected error from canceled context")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Sleep did not return promptly on cancellation: %v", elapsed)
	}
}

func TestRealClockSleepZeroDuration(t *testing.T) {
	clock := NewRealClock()
	if err := clock.Sleep(context.Background(), 0); err != nil {
		t.Errorf("expected nil error for zero duration, got %v", err)
	}
}
