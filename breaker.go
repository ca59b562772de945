package serviceclient

import (
	"sync"
	"time"
)

// BreakerConfig holds circuit breaker configuration for one target service.
type BreakerConfig struct {
	// FailureThresholdRatio is the rolling failure ratio that trips the
	// breaker (0–1). Default 0.5.
	FailureThresholdRatio float64
	// RollingWindowSize is the number of recent outcomes tracked. Default 10.
	RollingWindowSize int
	// MinimumSamples is the smallest number of recorded outcomes before the
	// ratio is evaluated. Default 5.
	MinimumSamples int
	// CoolDown is how long the breaker stays open before allowing a
	// recovery probe. Default 30s.
	CoolDown time.Duration
	// CountFatalFailures makes FatalFailure outcomes count toward the
	// failure ratio. Off by default: a 404 reflects caller error, not
	// service unavailability.
	CountFatalFailures bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThresholdRatio == 0 {
		c.FailureThresholdRatio = 0.5
	}
	if c.RollingWindowSize == 0 {
		c.RollingWindowSize = 10
	}
	if c.MinimumSamples == 0 {
		c.MinimumSamples = 5
	}
	if c.CoolDown == 0 {
		c.CoolDown = 30 * time.Second
	}
	return c
}

// CircuitBreaker is a per-service state machine gating whether call attempts
// are allowed. All concurrent calls to one service share one instance; each
// instance has its own lock so unrelated services never contend.
type CircuitBreaker struct {
	mu     sync.Mutex
	config BreakerConfig
	clock  Clock

	state         CircuitState
	window        []Classification
	next          int
	samples       int
	openedAt      time.Time
	lastChange    time.Time
	probeInFlight bool
}

// NewCircuitBreaker creates a circuit breaker with the given configuration.
// Zero-valued config fields fall back to defaults.
func NewCircuitBreaker(config BreakerConfig, clock Clock) *CircuitBreaker {
	if clock == nil {
		clock = NewRealClock()
	}
	config = config.withDefaults()
	return &CircuitBreaker{
		config: config,
		clock:  clock,
		state:  StateClosed,
		window: make([]Classification, config.RollingWindowSize),
	}
}

// Allow reports whether a call attempt may proceed. The second result is true
// when the attempt is the half-open recovery probe; the caller must report
// the probe's outcome via Record so the slot is released.
//
// The open -> half-open transition is evaluated lazily here: no timer fires,
// the first attempt past the cool-down claims the probe slot. While a probe
// is in flight every other attempt is rejected as if open.
func (cb *CircuitBreaker) Allow() (allowed, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true, false
	case StateOpen:
		if cb.clock.Now().Sub(cb.openedAt) >= cb.config.CoolDown {
			cb.transition(StateHalfOpen)
			cb.probeInFlight = true
			return true, true
		}
		return false, false
	case StateHalfOpen:
		if !cb.probeInFlight {
			cb.probeInFlight = true
			return true, true
		}
		return false, false
	default:
		return false, false
	}
}

// Record reports an attempt outcome. probe must be the value returned by the
// Allow call that admitted the attempt.
func (cb *CircuitBreaker) Record(outcome Classification, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probeInFlight = false
		switch outcome {
		case Success:
			cb.reset()
			cb.transition(StateClosed)
		case RetryableFailure:
			cb.open()
		case FatalFailure:
			if cb.config.CountFatalFailures {
				cb.open()
			}
			// An uncounted fatal outcome proves nothing about recovery;
			// stay half-open and let the next attempt probe again.
		}
		return
	}

	if cb.state != StateClosed {
		// Late completion from an attempt admitted before the breaker
		// tripped; the window no longer exists to charge.
		return
	}

	if outcome == FatalFailure && !cb.config.CountFatalFailures {
		return
	}

	cb.window[cb.next] = outcome
	cb.next = (cb.next + 1) % len(cb.window)
	if cb.samples < len(cb.window) {
		cb.samples++
	}

	if cb.samples >= cb.config.MinimumSamples && cb.failureRatio() >= cb.config.FailureThresholdRatio {
		cb.open()
	}
}

// State returns the current breaker phase.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// RetryAfter returns the time until the breaker will admit its next probe.
// Zero when the breaker is not open.
func (cb *CircuitBreaker) RetryAfter() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	remaining := cb.config.CoolDown - cb.clock.Now().Sub(cb.openedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset forces the breaker back to closed and clears the rolling window.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
	cb.transition(StateClosed)
	cb.probeInFlight = false
}

// open must be called with cb.mu held. Re-opening from half-open restarts
// the cool-down from now.
func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.clock.Now()
	cb.reset()
	cb.transition(StateOpen)
}

// reset must be called with cb.mu held.
func (cb *CircuitBreaker) reset() {
	for i := range cb.window {
		cb.window[i] = Success
	}
	cb.next = 0
	cb.samples = 0
}

// transition must be called with cb.mu held.
func (cb *CircuitBreaker) transition(state CircuitState) {
	if cb.state != state {
		cb.state = state
		cb.lastChange = cb.clock.Now()
	}
}

// failureRatio must be called with cb.mu held.
func (cb *CircuitBreaker) failureRatio() float64 {
	if cb.samples == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < cb.samples; i++ {
		switch cb.window[i] {
		case RetryableFailure:
			failures++
		case FatalFailure:
			if cb.config.CountFatalFailures {
				failures++
			}
		}
	}
	return float64(failures) / float64(cb.samples)
}

// breakerRegistry holds one CircuitBreaker per target service, created
// lazily on first use and kept for the process lifetime. The registry lock
// only guards the map; each breaker carries its own lock.
type breakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker

	defaults  BreakerConfig
	overrides map[string]BreakerConfig
	clock     Clock
}

func newBreakerRegistry(defaults BreakerConfig, overrides map[string]BreakerConfig, clock Clock) *breakerRegistry {
	return &breakerRegistry{
		breakers:  make(map[string]*CircuitBreaker),
		defaults:  defaults,
		overrides: overrides,
		clock:     clock,
	}
}

func (r *breakerRegistry) get(service string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[service]; ok {
		return cb
	}
	config := r.defaults
	if override, ok := r.overrides[service]; ok {
		config = override
	}
	cb = NewCircuitBreaker(config, r.clock)
	r.breakers[service] = cb
	return cb
}
