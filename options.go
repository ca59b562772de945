package serviceclient

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WithTransport injects the Transport used to execute requests.
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		c.transport = transport
	}
}

// WithGateway routes calls through the API gateway at gatewayURL,
// identifying the calling service by name and token.
func WithGateway(gatewayURL, serviceName, serviceToken string) Option {
	return func(c *Client) {
		c.transport = NewGatewayTransport(gatewayURL, serviceName, serviceToken)
	}
}

// WithClock injects the time source. Tests use a virtual clock here.
func WithClock(clock Clock) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithClassifier replaces the outcome classifier.
func WithClassifier(classifier Classifier) Option {
	return func(c *Client) {
		c.classifier = classifier
	}
}

// WithRetryableStatusCodes rebuilds the default classifier with a custom
// retryable status set.
func WithRetryableStatusCodes(codes ...int) Option {
	return func(c *Client) {
		set := make(map[int]bool, len(codes))
		for _, code := range codes {
			set[code] = true
		}
		c.classifier = NewClassifier(set, DefaultIsSuccess)
	}
}

// WithBackoffPolicy injects a fully built backoff policy.
func WithBackoffPolicy(policy *BackoffPolicy) Option {
	return func(c *Client) {
		c.backoff = policy
	}
}

// WithMaxAttempts sets the default attempt ceiling per call (first execution
// included).
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if c.backoff == nil {
			c.backoff = NewBackoffPolicy(n, 100*time.Millisecond, 10*time.Second)
			return
		}
		c.backoff = c.backoff.WithMaxAttempts(n)
	}
}

// WithBackoff sets the delay envelope for retries.
func WithBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		maxAttempts := 3
		if c.backoff != nil {
			maxAttempts = c.backoff.MaxAttempts()
		}
		c.backoff = NewBackoffPolicy(maxAttempts, baseDelay, maxDelay)
	}
}

// WithBackoffStrategy sets the delay envelope and jitter algorithm.
func WithBackoffStrategy(baseDelay, maxDelay time.Duration, strategy BackoffStrategy) Option {
	return func(c *Client) {
		maxAttempts := 3
		if c.backoff != nil {
			maxAttempts = c.backoff.MaxAttempts()
		}
		c.backoff = NewBackoffPolicyWithStrategy(maxAttempts, baseDelay, maxDelay, strategy)
	}
}

// WithCircuitBreaker sets the default breaker configuration applied to every
// target service.
func WithCircuitBreaker(config BreakerConfig) Option {
	return func(c *Client) {
		c.breakerConfig = config
	}
}

// WithServiceBreaker overrides breaker configuration for one target service.
func WithServiceBreaker(service string, config BreakerConfig) Option {
	return func(c *Client) {
		c.breakerOverrides[service] = config
	}
}

// WithCache enables response caching with the default in-memory cache. The
// cache itself is built in New once all options have applied, so it shares
// the client's clock regardless of option order.
func WithCache(ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = nil
		c.useDefaultCache = true
		c.cacheTTL = ttl
	}
}

// WithCustomCache sets a custom cache implementation.
func WithCustomCache(cache Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cache
		c.useDefaultCache = false
		c.cacheTTL = ttl
	}
}

// WithCacheCondition sets the predicate deciding cache eligibility.
func WithCacheCondition(fn CacheCondition) Option {
	return func(c *Client) {
		c.cacheCondition = fn
	}
}

// WithCacheEligibleMethods restricts caching to the given HTTP methods.
func WithCacheEligibleMethods(methods ...string) Option {
	return func(c *Client) {
		set := make(map[string]bool, len(methods))
		for _, m := range methods {
			set[strings.ToUpper(m)] = true
		}
		c.cacheCondition = func(req *Request) bool {
			return set[req.Method]
		}
	}
}

// WithCacheKeyFunc sets a custom fingerprint function.
func WithCacheKeyFunc(fn func(*Request) string) Option {
	return func(c *Client) {
		c.cacheKeyFunc = fn
	}
}

// WithStaleCacheFallback serves a still-valid cached response instead of a
// call failure when one is available.
func WithStaleCacheFallback() Option {
	return func(c *Client) {
		c.staleFallback = true
	}
}

// WithTimeout sets the default overall deadline per logical call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithServiceTimeout overrides the call deadline for one target service.
func WithServiceTimeout(service string, d time.Duration) Option {
	return func(c *Client) {
		c.serviceTimeouts[service] = d
	}
}

// WithRateLimiter enables client-side rate limiting.
func WithRateLimiter(requestsPerSecond float64, burst int) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(requestsPerSecond, burst)
	}
}

// WithDeduplication coalesces concurrent identical idempotent calls.
func WithDeduplication() Option {
	return func(c *Client) {
		c.deduplication = NewDeduplicationTracker()
	}
}

// WithDeduplicationCondition sets the predicate deciding which requests may
// be coalesced.
func WithDeduplicationCondition(fn DeduplicationCondition) Option {
	return func(c *Client) {
		c.dedupCondition = fn
	}
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

// WithMetricsCollector sets a custom metrics collector.
func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithDebug enables debug logging with default flags.
func WithDebug() Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.Enabled = true
	}
}

// WithDebugConfig sets custom debug configuration.
func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

// WithRequestIDGenerator sets the function generating X-Request-ID values.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		if c.debug == nil {
			c.debug = DefaultDebugConfig()
		}
		c.debug.RequestIDGen = gen
	}
}

// callSettings holds the resolved per-call knobs.
type callSettings struct {
	maxAttempts    int
	timeout        time.Duration
	cacheTTL       time.Duration
	cacheTTLSet    bool
	cacheEnabled   *bool
	disableBreaker bool
	query          url.Values
	header         http.Header
}

// CallOption overrides client defaults for a single call.
type CallOption func(*callSettings)

// WithCallMaxAttempts overrides the attempt ceiling for this call.
func WithCallMaxAttempts(n int) CallOption {
	return func(s *callSettings) {
		s.maxAttempts = n
	}
}

// WithCallTimeout overrides the overall deadline for this call.
func WithCallTimeout(d time.Duration) CallOption {
	return func(s *callSettings) {
		s.timeout = d
	}
}

// WithCallCacheTTL overrides the cache TTL for this call and forces cache
// eligibility.
func WithCallCacheTTL(ttl time.Duration) CallOption {
	return func(s *callSettings) {
		s.cacheTTL = ttl
		s.cacheTTLSet = true
		enabled := true
		s.cacheEnabled = &enabled
	}
}

// WithCallCache forces cache eligibility on or off for this call.
func WithCallCache(enabled bool) CallOption {
	return func(s *callSettings) {
		s.cacheEnabled = &enabled
	}
}

// WithoutRetry limits this call to a single attempt.
func WithoutRetry() CallOption {
	return func(s *callSettings) {
		s.maxAttempts = 1
	}
}

// WithoutBreaker bypasses the circuit breaker for this call.
func WithoutBreaker() CallOption {
	return func(s *callSettings) {
		s.disableBreaker = true
	}
}

// WithQuery sets query parameters for this call.
func WithQuery(query url.Values) CallOption {
	return func(s *callSettings) {
		s.query = query
	}
}

// WithHeader adds a header to this call.
func WithHeader(key, value string) CallOption {
	return func(s *callSettings) {
		if s.header == nil {
			s.header = http.Header{}
		}
		s.header.Add(key, value)
	}
}

func (c *Client) resolveSettings(service string, opts []CallOption) callSettings {
	settings := callSettings{
		maxAttempts: c.backoff.MaxAttempts(),
		timeout:     c.timeout,
		cacheTTL:    c.cacheTTL,
	}
	if override, ok := c.serviceTimeouts[service]; ok {
		settings.timeout = override
	}
	for _, opt := range opts {
		opt(&settings)
	}
	if settings.maxAttempts < 1 {
		settings.maxAttempts = 1
	}
	return settings
}

// ValidateConfiguration checks the client configuration, returning a
// Validation ClientError listing every problem found.
func (c *Client) ValidateConfiguration() error {
	var problems []string

	if c.transport == nil {
		problems = append(problems, "no transport configured: use WithGateway or WithTransport")
	}
	if c.backoff != nil {
		if c.backoff.maxAttempts < 1 {
			problems = append(problems, "maxAttempts must be at least 1")
		}
		if c.backoff.baseDelay <= 0 {
			problems = append(problems, "baseDelay must be positive")
		}
		if c.backoff.maxDelay < c.backoff.baseDelay {
			problems = append(problems, "maxDelay must be greater than or equal to baseDelay")
		}
	}
	if c.breakerConfig.FailureThresholdRatio < 0 || c.breakerConfig.FailureThresholdRatio > 1 {
		problems = append(problems, "failureThresholdRatio must be within [0, 1]")
	}
	if c.breakerConfig.RollingWindowSize < 0 {
		problems = append(problems, "rollingWindowSize must be non-negative")
	}
	if c.breakerConfig.MinimumSamples > c.breakerConfig.RollingWindowSize && c.breakerConfig.RollingWindowSize != 0 {
		problems = append(problems, "minimumSamples must not exceed rollingWindowSize")
	}
	if c.breakerConfig.CoolDown < 0 {
		problems = append(problems, "coolDownDuration must be non-negative")
	}
	if c.cache != nil && c.cacheTTL <= 0 {
		problems = append(problems, "cache TTL must be positive when caching is enabled")
	}
	if c.timeout < 0 {
		problems = append(problems, "timeout must be non-negative")
	}

	if len(problems) > 0 {
		return &ClientError{
			Type:    ErrorTypeValidation,
			Message: "configuration validation failed",
			Cause:   fmt.Errorf("validation errors: %v", problems),
		}
	}
	return nil
}
