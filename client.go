package serviceclient

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Client orchestrates resilient calls to downstream services: per call it
// consults the response cache, gates on the target's circuit breaker,
// executes via the injected Transport, classifies the outcome, updates
// breaker and cache, and retries per the backoff policy. It is safe for
// concurrent use; one instance should be shared per process.
type Client struct {
	transport  Transport
	clock      Clock
	classifier Classifier
	backoff    *BackoffPolicy

	breakerConfig    BreakerConfig
	breakerOverrides map[string]BreakerConfig
	breakers         *breakerRegistry

	cache           Cache
	useDefaultCache bool
	cacheTTL        time.Duration
	cacheCondition  CacheCondition
	cacheKeyFunc    func(*Request) string
	staleFallback   bool

	timeout         time.Duration
	serviceTimeouts map[string]time.Duration

	rateLimiter    *RateLimiter
	deduplication  *DeduplicationTracker
	dedupCondition DeduplicationCondition

	metrics *MetricsCollector
	debug   *DebugConfig
	logger  Logger

	validationError error
}

// New constructs a Client from functional options. Configuration is
// validated best effort; call IsValid / ValidationError to inspect the
// result, or ValidateConfigurationStrict to panic on misconfiguration.
func New(options ...Option) *Client {
	client := &Client{
		clock:            NewRealClock(),
		classifier:       DefaultClassifier,
		breakerConfig:    BreakerConfig{},
		breakerOverrides: map[string]BreakerConfig{},
		cacheTTL:         5 * time.Minute,
		cacheCondition:   DefaultCacheCondition,
		cacheKeyFunc:     Fingerprint,
		timeout:          30 * time.Second,
		serviceTimeouts:  map[string]time.Duration{},
		dedupCondition:   DefaultDeduplicationCondition,
		debug:            DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if client.backoff == nil {
		client.backoff = NewBackoffPolicy(3, 100*time.Millisecond, 10*time.Second)
	}
	if client.useDefaultCache && client.cache == nil {
		client.cache = NewInMemoryCacheWithClock(client.clock)
	}
	client.breakers = newBreakerRegistry(client.breakerConfig, client.breakerOverrides, client.clock)

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// Get performs a GET call.
func (c *Client) Get(ctx context.Context, service, endpoint string, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, service, "GET", endpoint, nil, opts...)
}

// Head performs a HEAD call.
func (c *Client) Head(ctx context.Context, service, endpoint string, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, service, "HEAD", endpoint, nil, opts...)
}

// Post performs a POST call with a JSON-encoded body.
func (c *Client) Post(ctx context.Context, service, endpoint string, body interface{}, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, service, "POST", endpoint, body, opts...)
}

// Put performs a PUT call with a JSON-encoded body.
func (c *Client) Put(ctx context.Context, service, endpoint string, body interface{}, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, service, "PUT", endpoint, body, opts...)
}

// Delete performs a DELETE call.
func (c *Client) Delete(ctx context.Context, service, endpoint string, opts ...CallOption) (*Response, error) {
	return c.Call(ctx, service, "DELETE", endpoint, nil, opts...)
}

// Call executes one logical call to service at endpoint, applying cache,
// circuit breaking, retries and metrics. body is JSON-encoded unless it is
// nil, []byte or json.RawMessage.
func (c *Client) Call(ctx context.Context, service, method, endpoint string, body interface{}, opts ...CallOption) (*Response, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}
	start := c.clock.Now()

	settings := c.resolveSettings(service, opts)

	var requestID string
	if c.debug != nil && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	payload, err := marshalBody(body)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "request body is not JSON-encodable",
			Cause:     err,
			RequestID: requestID,
			Service:   service,
			Method:    method,
			Endpoint:  endpoint,
			Timestamp: start,
		}
	}

	req := &Request{
		Service:   service,
		Method:    strings.ToUpper(method),
		Endpoint:  endpoint,
		Query:     settings.query,
		Header:    settings.header,
		Body:      payload,
		RequestID: requestID,
	}

	if c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("starting call", "requestID", requestID, "service", service, "method", req.Method, "endpoint", endpoint)
	}

	c.emit(func() { c.metrics.RecordCallStart(service) })
	defer c.emit(func() { c.metrics.RecordCallEnd(service) })

	cacheEnabled := c.cacheEligible(ctx, req, &settings)
	var fingerprint string
	if cacheEnabled {
		fingerprint = c.cacheKeyFunc(req)
		if entry, found := c.cacheGet(fingerprint); found {
			if c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Debug("cache hit", "requestID", requestID, "fingerprint", fingerprint)
			}
			c.emit(func() { c.metrics.RecordCacheHit(service) })
			duration := c.clock.Now().Sub(start)
			c.emit(func() { c.metrics.RecordCall(service, req.Method, entry.StatusCode, duration) })
			return responseFromCacheEntry(entry), nil
		}
		c.emit(func() { c.metrics.RecordCacheMiss(service) })
	}

	dedupEnabled := c.deduplication != nil && c.dedupCondition(req)
	var dedupKey string
	var dedupEntry *DeduplicationEntry
	if dedupEnabled {
		dedupKey = Fingerprint(req)
		var owner bool
		dedupEntry, owner = c.deduplication.GetOrCreateEntry(dedupKey)
		if !owner {
			resp, waitErr := dedupEntry.Wait(ctx)
			c.emit(func() { c.metrics.RecordDeduplicationHit(service) })
			return resp, waitErr
		}
	}

	resp, callErr := c.execute(ctx, req, settings, start, fingerprint, cacheEnabled)

	if dedupEnabled {
		c.deduplication.Complete(dedupKey, resp, callErr)
	}

	duration := c.clock.Now().Sub(start)
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	c.emit(func() { c.metrics.RecordCall(service, req.Method, statusCode, duration) })

	return resp, callErr
}

// execute runs the attempt loop for one call. The breaker is consulted
// before every attempt, including retries: a breaker that opened while this
// call was backing off rejects the next attempt.
func (c *Client) execute(ctx context.Context, req *Request, settings callSettings, start time.Time, fingerprint string, cacheEnabled bool) (*Response, error) {
	service := req.Service
	policy := c.backoff.WithMaxAttempts(settings.maxAttempts)
	budget := retryBudget{
		maxAttempts: settings.maxAttempts,
		started:     start,
		deadline:    settings.timeout,
	}

	for attempt := 1; ; attempt++ {
		budget.attempts = attempt

		if err := ctx.Err(); err != nil {
			return c.failCall(req, fingerprint, cacheEnabled, &ClientError{
				Type:        ErrorTypeRetriesExhausted,
				Message:     "call context done before attempt",
				Cause:       err,
				RequestID:   req.RequestID,
				Service:     service,
				Method:      req.Method,
				Endpoint:    req.Endpoint,
				Attempt:     attempt,
				MaxAttempts: settings.maxAttempts,
				Timestamp:   c.clock.Now(),
				Duration:    budget.elapsed(c.clock.Now()),
			})
		}

		if c.rateLimiter != nil && !c.rateLimiter.Allow() {
			if c.debug.Enabled && c.debug.LogRateLimit && c.logger != nil {
				c.logger.Warn("rate limit exceeded", "requestID", req.RequestID, "service", service)
			}
			c.emit(func() { c.metrics.RecordRateLimited(service) })
			c.emit(func() { c.metrics.RecordError(ErrorTypeRateLimit, service) })
			return nil, &ClientError{
				Type:        ErrorTypeRateLimit,
				Message:     "client-side rate limit exceeded",
				RequestID:   req.RequestID,
				Service:     service,
				Method:      req.Method,
				Endpoint:    req.Endpoint,
				Attempt:     attempt,
				MaxAttempts: settings.maxAttempts,
				Timestamp:   c.clock.Now(),
			}
		}

		var breaker *CircuitBreaker
		probe := false
		breakerState := StateClosed
		if !settings.disableBreaker {
			breaker = c.breakers.get(service)
			allowed, isProbe := breaker.Allow()
			if !allowed {
				if c.debug.Enabled && c.debug.LogCircuit && c.logger != nil {
					c.logger.Warn("circuit breaker rejected call", "requestID", req.RequestID, "service", service)
				}
				c.emit(func() { c.metrics.RecordBreakerRejected(service) })
				c.emit(func() { c.metrics.RecordError(ErrorTypeBreakerOpen, service) })
				return c.failCall(req, fingerprint, cacheEnabled, &ClientError{
					Type:        ErrorTypeBreakerOpen,
					Message:     "circuit breaker is open",
					RequestID:   req.RequestID,
					Service:     service,
					Method:      req.Method,
					Endpoint:    req.Endpoint,
					Attempt:     attempt,
					MaxAttempts: settings.maxAttempts,
					RetryAfter:  breaker.RetryAfter(),
					Timestamp:   c.clock.Now(),
					Duration:    budget.elapsed(c.clock.Now()),
				})
			}
			probe = isProbe
			breakerState = breaker.State()
		}

		if attempt > 1 {
			if c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
				c.logger.Info("retry attempt", "requestID", req.RequestID, "service", service, "attempt", attempt, "maxAttempts", settings.maxAttempts)
			}
			c.emit(func() { c.metrics.RecordRetry(service, attempt) })
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(nil)
		if remaining, ok := budget.remaining(c.clock.Now()); ok {
			attemptCtx, cancel = context.WithTimeout(ctx, remaining)
		}

		attemptStart := c.clock.Now()
		resp, err := c.transport.Execute(attemptCtx, req)
		if cancel != nil {
			cancel()
		}
		latency := c.clock.Now().Sub(attemptStart)

		classification := c.classifier(resp, err)
		if breaker != nil {
			breaker.Record(classification, probe)
			state := breaker.State()
			c.emit(func() { c.metrics.RecordBreakerState(service, state) })
		}
		c.emit(func() { c.metrics.RecordAttempt(service, classification, latency, breakerState) })

		switch classification {
		case Success:
			if cacheEnabled {
				c.cacheSet(fingerprint, resp, settings.cacheTTL)
				if c.debug.Enabled && c.debug.LogCache && c.logger != nil {
					c.logger.Debug("response cached", "requestID", req.RequestID, "fingerprint", fingerprint, "ttl", settings.cacheTTL)
				}
			}
			return resp, nil

		case FatalFailure:
			return c.failCall(req, fingerprint, cacheEnabled, c.fatalError(req, resp, err, attempt, settings.maxAttempts, budget.elapsed(c.clock.Now())))
		}

		// RetryableFailure.
		elapsed := budget.elapsed(c.clock.Now())
		if !policy.ShouldRetry(attempt, elapsed, settings.timeout, classification) {
			c.emit(func() { c.metrics.RecordError(ErrorTypeRetriesExhausted, service) })
			return c.failCall(req, fingerprint, cacheEnabled, c.exhaustedError(req, resp, err, attempt, settings.maxAttempts, elapsed))
		}

		delay := policy.Delay(attempt)
		if c.debug.Enabled && c.debug.LogRetries && c.logger != nil {
			c.logger.Info("scheduling retry", "requestID", req.RequestID, "service", service, "attempt", attempt+1, "backoff", delay)
		}
		if sleepErr := c.clock.Sleep(ctx, delay); sleepErr != nil {
			return c.failCall(req, fingerprint, cacheEnabled, c.exhaustedError(req, resp, sleepErr, attempt, settings.maxAttempts, budget.elapsed(c.clock.Now())))
		}
	}
}

func (c *Client) fatalError(req *Request, resp *Response, cause error, attempt, maxAttempts int, duration time.Duration) *ClientError {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
		if cause == nil {
			if gatewayErr := ParseGatewayError(resp); gatewayErr != nil {
				cause = gatewayErr
			}
		}
	}
	return &ClientError{
		Type:        ErrorTypeFatal,
		Message:     "call failed with non-retryable outcome",
		Cause:       cause,
		RequestID:   req.RequestID,
		Service:     req.Service,
		Method:      req.Method,
		Endpoint:    req.Endpoint,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		StatusCode:  statusCode,
		Timestamp:   c.clock.Now(),
		Duration:    duration,
	}
}

func (c *Client) exhaustedError(req *Request, resp *Response, cause error, attempt, maxAttempts int, duration time.Duration) *ClientError {
	statusCode := 0
	if resp != nil {
		statusCode = resp.StatusCode
	}
	return &ClientError{
		Type:        ErrorTypeRetriesExhausted,
		Message:     "all retry attempts failed",
		Cause:       cause,
		RequestID:   req.RequestID,
		Service:     req.Service,
		Method:      req.Method,
		Endpoint:    req.Endpoint,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
		StatusCode:  statusCode,
		Timestamp:   c.clock.Now(),
		Duration:    duration,
	}
}

// failCall applies the stale-cache fallback before surfacing a call failure:
// when enabled and a valid entry exists (for instance populated by a
// concurrent call while this one was retrying), the entry is returned
// instead of the error.
func (c *Client) failCall(req *Request, fingerprint string, cacheEnabled bool, callErr *ClientError) (*Response, error) {
	if c.staleFallback && cacheEnabled {
		if entry, found := c.cacheGet(fingerprint); found {
			if c.debug.Enabled && c.debug.LogCache && c.logger != nil {
				c.logger.Warn("serving cached response after failure", "requestID", req.RequestID, "service", req.Service, "error", callErr.Error())
			}
			c.emit(func() { c.metrics.RecordCacheHit(req.Service) })
			return responseFromCacheEntry(entry), nil
		}
	}
	return nil, callErr
}

// cacheGet reads from the cache, degrading any failure to a miss. Cache
// problems never surface to callers.
func (c *Client) cacheGet(key string) (entry *CacheEntry, found bool) {
	defer func() {
		if r := recover(); r != nil {
			entry, found = nil, false
			if c.logger != nil {
				c.logger.Warn("cache read failed", "key", key, "panic", r)
			}
		}
	}()
	return c.cache.Get(key)
}

// cacheSet writes to the cache, absorbing any failure.
func (c *Client) cacheSet(key string, resp *Response, ttl time.Duration) {
	defer func() {
		if r := recover(); r != nil && c.logger != nil {
			c.logger.Warn("cache write failed", "key", key, "panic", r)
		}
	}()
	c.cache.Set(key, cacheEntryFromResponse(resp), ttl)
	if sized, ok := c.cache.(*InMemoryCache); ok {
		size := sized.Len()
		c.emit(func() { c.metrics.RecordCacheSize("default", size) })
	}
}

// emit runs a metrics emission, absorbing panics. Degraded observability
// never becomes a call failure.
func (c *Client) emit(f func()) {
	if c.metrics == nil {
		return
	}
	defer func() { _ = recover() }()
	f()
}

// cacheEligible resolves cache eligibility: per-call option, then context
// cache control, then the client-level condition. The orchestrator decides
// eligibility; the cache itself never does. A context-carried TTL is folded
// into settings so the write path stores with it, unless a per-call TTL was
// given.
func (c *Client) cacheEligible(ctx context.Context, req *Request, settings *callSettings) bool {
	if c.cache == nil {
		return false
	}
	control, hasControl := ctx.Value(CacheControlKey).(*CacheControl)
	if hasControl && control.TTL > 0 && !settings.cacheTTLSet {
		settings.cacheTTL = control.TTL
	}
	if settings.cacheEnabled != nil {
		return *settings.cacheEnabled
	}
	if hasControl {
		return control.Enabled
	}
	return c.cacheCondition(req)
}

// BreakerState returns the current breaker phase for a target service.
func (c *Client) BreakerState(service string) CircuitState {
	return c.breakers.get(service).State()
}

// ResetBreaker forces the breaker for a target service back to closed.
func (c *Client) ResetBreaker(service string) {
	c.breakers.get(service).Reset()
}

// ClearCache drops all cached responses.
func (c *Client) ClearCache() {
	if c.cache != nil {
		c.cache.Clear()
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

// ValidateConfigurationStrict panics if configuration is invalid.
func (c *Client) ValidateConfigurationStrict() {
	if err := c.ValidateConfiguration(); err != nil {
		panic("invalid client configuration: " + err.Error())
	}
}

func marshalBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return json.Marshal(body)
	}
}
