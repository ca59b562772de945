package serviceclient

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestClientErrorFormatting(t *testing.T) {
	err := &ClientError{
		Type:        ErrorTypeRetriesExhausted,
		Message:     "all retry attempts failed",
		Cause:       errors.New("503 from upstream"),
		RequestID:   "req-1",
		Attempt:     3,
		MaxAttempts: 3,
	}

	msg := err.Error()
	for _, want := range []string{"RetriesExhausted", "all retry attempts failed", "503 from upstream", "req-1", "attempt 3/3"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected %q in message %q", want, msg)
		}
	}
}

func TestClientErrorNil(t *testing.T) {
	var err *ClientError
	if err.Error() != "<nil>" {
		t.Errorf("expected <nil>, got %q", err.Error())
	}
	if err.Unwrap() != nil {
		t.Error("expected nil unwrap")
	}
	if err.Is(ErrBreakerOpen) {
		t.Error("nil error should not match sentinels")
	}
}

func TestClientErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := &ClientError{Type: ErrorTypeRetriesExhausted, Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to see through to the cause")
	}
}

func TestClientErrorSentinels(t *testing.T) {
	tests := []struct {
		errType  string
		sentinel error
	}{
		{ErrorTypeBreakerOpen, ErrBreakerOpen},
		{ErrorTypeRetriesExhausted, ErrRetriesExhausted},
		{ErrorTypeRateLimit, ErrRateLimited},
	}
	for _, tt := range tests {
		err := &ClientError{Type: tt.errType}
		if !errors.Is(err, tt.sentinel) {
			t.Errorf("%s: expected match against sentinel", tt.errType)
		}
	}

	fatal := &ClientError{Type: ErrorTypeFatal}
	if errors.Is(fatal, ErrBreakerOpen) || errors.Is(fatal, ErrRetriesExhausted) {
		t.Error("fatal error must not match transient sentinels")
	}
}

func TestClientErrorMatchesByType(t *testing.T) {
	a := &ClientError{Type: ErrorTypeFatal, Message: "one"}
	b := &ClientError{Type: ErrorTypeFatal, Message: "other"}
	if !errors.Is(a, b) {
		t.Error("expected ClientErrors to match on Type")
	}
}

func TestClientErrorRetryAfter(t *testing.T) {
	err := &ClientError{Type: ErrorTypeBreakerOpen, RetryAfter: 12 * time.Second}
	var clientErr *ClientError
	if !errors.As(error(err), &clientErr) {
		t.Fatal("errors.As failed")
	}
	if clientErr.RetryAfter != 12*time.Second {
		t.Errorf("expected RetryAfter preserved, got %v", clientErr.RetryAfter)
	}
}

func TestGatewayErrorFormatting(t *testing.T) {
	err := &GatewayError{ErrorType: "not_found", Message: "user missing", CorrelationID: "corr-1"}
	msg := err.Error()
	if !strings.Contains(msg, "not_found") || !strings.Contains(msg, "corr-1") {
		t.Errorf("unexpected message %q", msg)
	}

	bare := &GatewayError{ErrorType: "bad_request", Message: "no"}
	if strings.Contains(bare.Error(), "correlation_id") {
		t.Error("expected no correlation_id segment when absent")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"breaker open", &ClientError{Type: ErrorTypeBreakerOpen}, true},
		{"retries exhausted", &ClientError{Type: ErrorTypeRetriesExhausted}, true},
		{"rate limited", &ClientError{Type: ErrorTypeRateLimit}, true},
		{"fatal", &ClientError{Type: ErrorTypeFatal}, false},
		{"validation", &ClientError{Type: ErrorTypeValidation}, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
