package serviceclient

import (
	"time"

	internalbackoff "github.com/ThinkReality/tr-service-client/internal/backoff"
)

// BackoffStrategy selects the jitter algorithm used for retry delays.
type BackoffStrategy int

const (
	// ExponentialJitter is min(baseDelay * 2^(attempt-1), maxDelay) scaled
	// by a uniform factor in [0.5, 1.5]. The default.
	ExponentialJitter BackoffStrategy = iota
	// DecorrelatedJitter is AWS-style decorrelated jitter.
	DecorrelatedJitter
)

// BackoffPolicy decides whether a failed attempt is retried and how long to
// wait before the next one. Attempt numbers are 1-based: the first execution
// is attempt 1 and the policy is only consulted after it fails.
type BackoffPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
	jitter      float64
	calculator  *internalbackoff.Calculator
}

// NewBackoffPolicy creates a policy with exponential jitter backoff.
func NewBackoffPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *BackoffPolicy {
	return NewBackoffPolicyWithStrategy(maxAttempts, baseDelay, maxDelay, ExponentialJitter)
}

// NewBackoffPolicyWithStrategy creates a policy with an explicit strategy.
func NewBackoffPolicyWithStrategy(maxAttempts int, baseDelay, maxDelay time.Duration, strategy BackoffStrategy) *BackoffPolicy {
	policy := &BackoffPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		multiplier:  2.0,
		jitter:      0.5,
	}
	switch strategy {
	case DecorrelatedJitter:
		policy.calculator = internalbackoff.GetDecorrelatedJitterCalculator()
	default:
		policy.calculator = internalbackoff.GetExponentialJitterCalculator()
	}
	return policy
}

// Delay returns the wait before retrying after the given attempt failed.
func (p *BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.calculator.Calculate(attempt-1, p.baseDelay, p.maxDelay, p.multiplier, p.jitter)
}

// ShouldRetry reports whether another attempt is permitted after attempt
// failed with the given classification, elapsed time into the call and
// overall call deadline (zero means none). The circuit breaker is re-checked
// separately before every attempt; it is not this policy's concern.
func (p *BackoffPolicy) ShouldRetry(attempt int, elapsed, deadline time.Duration, classification Classification) bool {
	if classification != RetryableFailure {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	if deadline > 0 && elapsed >= deadline {
		return false
	}
	return true
}

// MaxAttempts returns the configured attempt ceiling.
func (p *BackoffPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// WithMaxAttempts returns a policy with the given attempt ceiling, sharing
// the delay parameters. Used for per-call overrides.
func (p *BackoffPolicy) WithMaxAttempts(n int) *BackoffPolicy {
	if n <= 0 || n == p.maxAttempts {
		return p
	}
	derived := *p
	derived.maxAttempts = n
	return &derived
}

// retryBudget tracks one call invocation's retry spend. It is owned by a
// single in-flight call and never shared.
type retryBudget struct {
	attempts    int
	maxAttempts int
	started     time.Time
	deadline    time.Duration
}

// elapsed returns time spent in the call so far.
func (b *retryBudget) elapsed(now time.Time) time.Duration {
	return now.Sub(b.started)
}

// remaining returns the time left before the call deadline, and whether a
// deadline applies at all.
func (b *retryBudget) remaining(now time.Time) (time.Duration, bool) {
	if b.deadline <= 0 {
		return 0, false
	}
	left := b.deadline - b.elapsed(now)
	if left < 0 {
		left = 0
	}
	return left, true
}
