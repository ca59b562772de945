package serviceclient

import (
	"sync"
	"testing"
	"time"
)

func TestNewCircuitBreakerDefaults(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{}, newFakeClock())

	if cb.config.FailureThresholdRatio != 0.5 {
		t.Errorf("expected default FailureThresholdRatio=0.5, got %v", cb.config.FailureThresholdRatio)
	}
	if cb.config.RollingWindowSize != 10 {
		t.Errorf("expected default RollingWindowSize=10, got %d", cb.config.RollingWindowSize)
	}
	if cb.config.MinimumSamples != 5 {
		t.Errorf("expected default MinimumSamples=5, got %d", cb.config.MinimumSamples)
	}
	if cb.config.CoolDown != 30*time.Second {
		t.Errorf("expected default CoolDown=30s, got %v", cb.config.CoolDown)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected initial state=closed, got %v", cb.State())
	}
}

func TestCircuitBreakerTripsOnFailureRatio(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThresholdRatio: 0.5,
		RollingWindowSize:     10,
		MinimumSamples:        5,
	}, newFakeClock())

	for i := 0; i < 4; i++ {
		cb.Record(RetryableFailure, false)
		if cb.State() != StateClosed {
			t.Fatalf("expected closed after %d failures, got %v", i+1, cb.State())
		}
	}

	// Fifth sample reaches the minimum and the ratio (5/5) trips it.
	cb.Record(RetryableFailure, false)
	if cb.State() != StateOpen {
		t.Errorf("expected open after 5 consecutive failures, got %v", cb.State())
	}
}

func TestCircuitBreakerStaysClosedBelowRatio(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThresholdRatio: 0.5,
		RollingWindowSize:     10,
		MinimumSamples:        5,
	}, newFakeClock())

	// The ratio is evaluated after every sample once MinimumSamples is
	// reached, so no prefix of the sequence may reach the 0.5 threshold;
	// 4 failures in 10 samples stays below it throughout.
	outcomes := []Classification{
		Success, Success, RetryableFailure, Success, RetryableFailure,
		Success, RetryableFailure, Success, RetryableFailure, Success,
	}
	for _, outcome := range outcomes {
		cb.Record(outcome, false)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed at 40%% failures, got %v", cb.State())
	}
}

func TestCircuitBreakerFatalNotCountedByDefault(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MinimumSamples: 2}, newFakeClock())

	for i := 0; i < 20; i++ {
		cb.Record(FatalFailure, false)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed after fatal outcomes, got %v", cb.State())
	}
	if cb.samples != 0 {
		t.Errorf("expected fatal outcomes excluded from window, got %d samples", cb.samples)
	}
}

func TestCircuitBreakerFatalCountedWhenConfigured(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples:     5,
		CountFatalFailures: true,
	}, newFakeClock())

	for i := 0; i < 5; i++ {
		cb.Record(FatalFailure, false)
	}
	if cb.State() != StateOpen {
		t.Errorf("expected open with CountFatalFailures, got %v", cb.State())
	}
}

func TestCircuitBreakerRejectsWhileOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       30 * time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	if cb.State() != StateOpen {
		t.Fatalf("expected open, got %v", cb.State())
	}

	allowed, probe := cb.Allow()
	if allowed || probe {
		t.Errorf("expected rejection while open, got allowed=%v probe=%v", allowed, probe)
	}

	// Still inside the cool-down window.
	clock.Advance(29 * time.Second)
	if allowed, _ := cb.Allow(); allowed {
		t.Error("expected rejection before cool-down elapsed")
	}
}

func TestCircuitBreakerRetryAfter(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       30 * time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)

	if got := cb.RetryAfter(); got != 30*time.Second {
		t.Errorf("expected RetryAfter=30s right after opening, got %v", got)
	}
	clock.Advance(10 * time.Second)
	if got := cb.RetryAfter(); got != 20*time.Second {
		t.Errorf("expected RetryAfter=20s, got %v", got)
	}
}

func TestCircuitBreakerHalfOpenAfterCoolDown(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       30 * time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	clock.Advance(30 * time.Second)

	allowed, probe := cb.Allow()
	if !allowed || !probe {
		t.Fatalf("expected probe admission after cool-down, got allowed=%v probe=%v", allowed, probe)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("expected half-open, got %v", cb.State())
	}
}

func TestCircuitBreakerSingleProbeSlot(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	clock.Advance(time.Second)

	allowed, probe := cb.Allow()
	if !allowed || !probe {
		t.Fatal("expected first caller to claim the probe slot")
	}

	// While the probe is in flight everyone else is rejected.
	for i := 0; i < 5; i++ {
		if allowed, _ := cb.Allow(); allowed {
			t.Fatal("expected rejection while probe in flight")
		}
	}

	// Releasing the slot with a success closes the breaker.
	cb.Record(Success, true)
	if cb.State() != StateClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
	if allowed, probe := cb.Allow(); !allowed || probe {
		t.Errorf("expected normal admission after close, got allowed=%v probe=%v", allowed, probe)
	}
}

func TestCircuitBreakerProbeFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       10 * time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	clock.Advance(10 * time.Second)

	if allowed, probe := cb.Allow(); !allowed || !probe {
		t.Fatal("expected probe admission")
	}
	cb.Record(RetryableFailure, true)

	if cb.State() != StateOpen {
		t.Fatalf("expected reopen after failed probe, got %v", cb.State())
	}
	// Cool-down restarts from the probe failure.
	if got := cb.RetryAfter(); got != 10*time.Second {
		t.Errorf("expected full cool-down after reopen, got %v", got)
	}
}

func TestCircuitBreakerProbeFatalKeepsHalfOpen(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	clock.Advance(time.Second)

	if allowed, probe := cb.Allow(); !allowed || !probe {
		t.Fatal("expected probe admission")
	}
	cb.Record(FatalFailure, true)

	if cb.State() != StateHalfOpen {
		t.Errorf("expected half-open after uncounted fatal probe, got %v", cb.State())
	}
	// The slot was released, the next caller probes again.
	if allowed, probe := cb.Allow(); !allowed || !probe {
		t.Error("expected next caller to claim the released probe slot")
	}
}

func TestCircuitBreakerSuccessfulProbeResetsWindow(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(BreakerConfig{
		MinimumSamples: 2,
		CoolDown:       time.Second,
	}, clock)

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	clock.Advance(time.Second)
	cb.Allow()
	cb.Record(Success, true)

	if cb.samples != 0 {
		t.Errorf("expected window reset after recovery, got %d samples", cb.samples)
	}
	// One new failure must not trip the fresh window.
	cb.Record(RetryableFailure, false)
	if cb.State() != StateClosed {
		t.Errorf("expected closed with a fresh window, got %v", cb.State())
	}
}

func TestCircuitBreakerLateCompletionIgnoredWhileOpen(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MinimumSamples: 2}, newFakeClock())

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	// An attempt admitted before the trip completes late; it must not
	// disturb the open state.
	cb.Record(Success, false)
	if cb.State() != StateOpen {
		t.Errorf("expected open after late completion, got %v", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{MinimumSamples: 2}, newFakeClock())

	cb.Record(RetryableFailure, false)
	cb.Record(RetryableFailure, false)
	cb.Reset()

	if cb.State() != StateClosed {
		t.Errorf("expected closed after Reset, got %v", cb.State())
	}
	if allowed, _ := cb.Allow(); !allowed {
		t.Error("expected admission after Reset")
	}
}

func TestCircuitBreakerConcurrentRecords(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		RollingWindowSize: 100,
		MinimumSamples:    100,
	}, newFakeClock())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				cb.Record(Success, false)
			} else {
				cb.Record(RetryableFailure, false)
			}
		}(i)
	}
	wg.Wait()

	if cb.samples != 50 {
		t.Errorf("expected 50 samples, got %d", cb.samples)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected closed below minimum samples, got %v", cb.State())
	}
}

func TestBreakerRegistrySharedInstance(t *testing.T) {
	registry := newBreakerRegistry(BreakerConfig{}, nil, newFakeClock())

	a := registry.get("users")
	b := registry.get("users")
	if a != b {
		t.Error("expected one breaker instance per service")
	}
	if registry.get("billing") == a {
		t.Error("expected distinct breakers for distinct services")
	}
}

func TestBreakerRegistryOverrides(t *testing.T) {
	overrides := map[string]BreakerConfig{
		"flaky": {RollingWindowSize: 4, MinimumSamples: 2, FailureThresholdRatio: 0.9},
	}
	registry := newBreakerRegistry(BreakerConfig{}, overrides, newFakeClock())

	if got := registry.get("flaky").config.RollingWindowSize; got != 4 {
		t.Errorf("expected override window size 4, got %d", got)
	}
	if got := registry.get("other").config.RollingWindowSize; got != 10 {
		t.Errorf("expected default window size 10, got %d", got)
	}
}

func TestBreakerRegistryConcurrentGet(t *testing.T) {
	registry := newBreakerRegistry(BreakerConfig{}, nil, newFakeClock())

	var wg sync.WaitGroup
	results := make([]*CircuitBreaker, 20)
	for i := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = registry.get("users")
		}(i)
	}
	wg.Wait()

	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatal("concurrent get returned different breaker instances")
		}
	}
}
