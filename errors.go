package serviceclient

import (
	"errors"
	"fmt"
	"time"
)

// Error type identifiers carried by ClientError.Type.
const (
	ErrorTypeBreakerOpen      = "BreakerOpen"
	ErrorTypeRetriesExhausted = "RetriesExhausted"
	ErrorTypeFatal            = "Fatal"
	ErrorTypeRateLimit        = "RateLimit"
	ErrorTypeValidation       = "Validation"
)

// Sentinel errors for common failure scenarios. Use errors.Is against these;
// use errors.As with *ClientError for the full context.
var (
	// ErrBreakerOpen is returned when the target service's circuit breaker
	// rejects the call without attempting transport.
	ErrBreakerOpen = errors.New("serviceclient: circuit breaker open")

	// ErrRetriesExhausted is returned when all permitted attempts failed
	// with a retryable outcome or the call deadline elapsed.
	ErrRetriesExhausted = errors.New("serviceclient: retries exhausted")

	// ErrRateLimited is returned when the client-side rate limiter denies
	// a request.
	ErrRateLimited = errors.New("serviceclient: rate limited")
)

// ClientError is the error type surfaced by Client for call-outcome-affecting
// failures. Infrastructure-adjacent failures (cache, metrics) never surface.
type ClientError struct {
	Type    string
	Message string
	Cause   error

	RequestID   string
	Service     string
	Method      string
	Endpoint    string
	Attempt     int
	MaxAttempts int
	StatusCode  int

	// RetryAfter is set on BreakerOpen errors: time until the breaker will
	// allow its next recovery probe.
	RetryAfter time.Duration

	Timestamp time.Time
	Duration  time.Duration
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Attempt > 0 {
		msg = fmt.Sprintf("%s (attempt %d/%d)", msg, e.Attempt, e.MaxAttempts)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is supports errors.Is against both the package sentinels and other
// *ClientError values (matched on Type).
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrBreakerOpen:
		return e.Type == ErrorTypeBreakerOpen
	case ErrRetriesExhausted:
		return e.Type == ErrorTypeRetriesExhausted
	case ErrRateLimited:
		return e.Type == ErrorTypeRateLimit
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// GatewayError is the structured error format emitted by the API gateway for
// 4xx responses: {"error": {"type", "message", "correlation_id"}}.
type GatewayError struct {
	ErrorType     string
	Message       string
	CorrelationID string
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	if e.CorrelationID != "" {
		msg = fmt.Sprintf("%s (correlation_id: %s)", msg, e.CorrelationID)
	}
	return msg
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on a later call. Breaker-open and rate-limit rejections are
// transient: the downstream may recover. Fatal and validation errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRetriesExhausted) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		switch clientErr.Type {
		case ErrorTypeBreakerOpen, ErrorTypeRetriesExhausted, ErrorTypeRateLimit:
			return true
		default:
			return false
		}
	}

	return false
}
