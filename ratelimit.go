package serviceclient

import (
	"golang.org/x/time/rate"
)

// RateLimiter bounds the client's outbound request rate with a token bucket.
// It protects the gateway from a misbehaving caller; it is not a substitute
// for server-side limits.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a limiter allowing requestsPerSecond sustained with
// the given burst.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Allow reports whether a request may proceed now. Denied requests are not
// queued; the caller fails fast with ErrRateLimited.
func (rl *RateLimiter) Allow() bool {
	return rl.limiter.Allow()
}

// Tokens returns the number of tokens currently available.
func (rl *RateLimiter) Tokens() float64 {
	return rl.limiter.Tokens()
}
