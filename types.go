package serviceclient

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Request is a fully resolved outbound request handed to a Transport. The
// client fills Service, Method, Endpoint and RequestID; Query, Header and
// Body come from per-call options.
type Request struct {
	Service   string
	Method    string
	Endpoint  string
	Query     url.Values
	Header    http.Header
	Body      []byte
	RequestID string
}

// Response is the transport-level result of a call: status plus the fully
// read body. Bodies are read eagerly so responses can be cached and shared
// between de-duplicated callers without aliasing concerns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport performs the network call for a resolved Request. It must honor
// ctx cancellation and return either a Response (any status code) or a
// transport-level error (connection refused, timeout). Status interpretation
// is the Classifier's job, not the Transport's.
type Transport interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// TransportFunc adapts a function to the Transport interface.
type TransportFunc func(ctx context.Context, req *Request) (*Response, error)

func (f TransportFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Classification is the outcome category of a single call attempt.
type Classification int

const (
	// Success means a usable response was received.
	Success Classification = iota
	// RetryableFailure means the attempt failed in a way that may succeed
	// on retry: timeout, connection error, or a retryable status code.
	RetryableFailure
	// FatalFailure means the request itself is bad (4xx and friends);
	// retrying cannot help and the breaker is not charged by default.
	FatalFailure
)

func (c Classification) String() string {
	switch c {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case FatalFailure:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classifier maps an attempt outcome to a Classification. Exactly one of
// resp / err is meaningful: err is non-nil for transport-level failures.
type Classifier func(resp *Response, err error) Classification

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CacheEntry represents a cached response.
type CacheEntry struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
	ExpiresAt  time.Time
}

// Cache is the response cache consulted for idempotent calls. Expired
// entries are treated as absent.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// CacheCondition decides whether a request is eligible for caching.
type CacheCondition func(req *Request) bool

// Clock supplies time to every timing-sensitive component so tests can run
// against a virtual clock. Sleep must return early with ctx.Err() when the
// context is done.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Option configures a Client at construction time.
type Option func(*Client)

type contextKey string

// CacheControlKey carries per-request cache overrides in a context.
const CacheControlKey contextKey = "serviceclient_cache_control"

// CacheControl holds cache control options for a single request.
type CacheControl struct {
	Enabled bool
	TTL     time.Duration
}

// WithContextCacheEnabled forces caching on for the request using this context.
func WithContextCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true})
}

// WithContextCacheDisabled forces caching off for the request using this context.
func WithContextCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: false})
}

// WithContextCacheTTL enables caching with a custom TTL for the request using
// this context.
func WithContextCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, CacheControlKey, &CacheControl{Enabled: true, TTL: ttl})
}
