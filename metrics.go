package serviceclient

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the call lifecycle and
// reliability layers. It is safe for concurrent use. All emission is
// fire-and-forget: a broken metrics pipeline degrades observability, never
// call outcomes.
type MetricsCollector struct {
	callsTotal    *prometheus.CounterVec
	callDuration  *prometheus.HistogramVec
	callsInFlight *prometheus.GaugeVec

	attemptsTotal  *prometheus.CounterVec
	attemptLatency *prometheus.HistogramVec
	retriesTotal   *prometheus.CounterVec

	breakerState    *prometheus.GaugeVec
	breakerRejected *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec
	cacheSize   *prometheus.GaugeVec

	deduplicationHits *prometheus.CounterVec
	rateLimiterDenied *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using the supplied
// registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	return &MetricsCollector{
		callsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_calls_total",
				Help: "Total number of logical service calls",
			},
			[]string{"service", "method", "status_code"},
		),
		callDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "service_client_call_duration_seconds",
				Help:    "Duration of logical service calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "method"},
		),
		callsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_client_calls_in_flight",
				Help: "Number of logical service calls currently in flight",
			},
			[]string{"service"},
		),
		attemptsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_attempts_total",
				Help: "Total number of call attempts by outcome and breaker state",
			},
			[]string{"service", "outcome", "breaker_state"},
		),
		attemptLatency: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "service_client_attempt_latency_seconds",
				Help:    "Latency of individual call attempts in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"service", "outcome"},
		),
		retriesTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"service", "attempt"},
		),
		breakerState: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_client_circuit_breaker_state",
				Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"service"},
		),
		breakerRejected: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_circuit_breaker_rejected_total",
				Help: "Total number of calls rejected by an open circuit breaker",
			},
			[]string{"service"},
		),
		cacheHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_cache_hits_total",
				Help: "Total number of response cache hits",
			},
			[]string{"service"},
		),
		cacheMisses: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_cache_misses_total",
				Help: "Total number of response cache misses",
			},
			[]string{"service"},
		),
		cacheSize: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "service_client_cache_size",
				Help: "Current number of entries in the response cache",
			},
			[]string{"name"},
		),
		deduplicationHits: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_deduplication_hits_total",
				Help: "Total number of calls coalesced onto an in-flight duplicate",
			},
			[]string{"service"},
		),
		rateLimiterDenied: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_rate_limited_total",
				Help: "Total number of calls denied by the client-side rate limiter",
			},
			[]string{"service"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "service_client_errors_total",
				Help: "Total number of errors surfaced to callers",
			},
			[]string{"type", "service"},
		),
	}
}

// RecordCallStart marks a logical call as in flight.
func (m *MetricsCollector) RecordCallStart(service string) {
	m.callsInFlight.WithLabelValues(service).Inc()
}

// RecordCallEnd marks a logical call as finished.
func (m *MetricsCollector) RecordCallEnd(service string) {
	m.callsInFlight.WithLabelValues(service).Dec()
}

// RecordCall records a completed logical call.
func (m *MetricsCollector) RecordCall(service, method string, statusCode int, duration time.Duration) {
	code := strconv.Itoa(statusCode)
	m.callsTotal.WithLabelValues(service, method, code).Inc()
	m.callDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordAttempt records one execution attempt: its outcome, latency and the
// breaker state observed when the attempt was admitted.
func (m *MetricsCollector) RecordAttempt(service string, outcome Classification, latency time.Duration, state CircuitState) {
	m.attemptsTotal.WithLabelValues(service, outcome.String(), state.String()).Inc()
	m.attemptLatency.WithLabelValues(service, outcome.String()).Observe(latency.Seconds())
}

// RecordRetry records a retry attempt.
func (m *MetricsCollector) RecordRetry(service string, attempt int) {
	m.retriesTotal.WithLabelValues(service, strconv.Itoa(attempt)).Inc()
}

// RecordBreakerState records the current breaker state for a service.
func (m *MetricsCollector) RecordBreakerState(service string, state CircuitState) {
	m.breakerState.WithLabelValues(service).Set(float64(state))
}

// RecordBreakerRejected records a call rejected without a transport attempt.
func (m *MetricsCollector) RecordBreakerRejected(service string) {
	m.breakerRejected.WithLabelValues(service).Inc()
}

// RecordCacheHit records a response cache hit.
func (m *MetricsCollector) RecordCacheHit(service string) {
	m.cacheHits.WithLabelValues(service).Inc()
}

// RecordCacheMiss records a response cache miss.
func (m *MetricsCollector) RecordCacheMiss(service string) {
	m.cacheMisses.WithLabelValues(service).Inc()
}

// RecordCacheSize records the current cache entry count.
func (m *MetricsCollector) RecordCacheSize(name string, size int) {
	m.cacheSize.WithLabelValues(name).Set(float64(size))
}

// RecordDeduplicationHit records a call served by an in-flight duplicate.
func (m *MetricsCollector) RecordDeduplicationHit(service string) {
	m.deduplicationHits.WithLabelValues(service).Inc()
}

// RecordRateLimited records a call denied by the rate limiter.
func (m *MetricsCollector) RecordRateLimited(service string) {
	m.rateLimiterDenied.WithLabelValues(service).Inc()
}

// RecordError records an error surfaced to a caller.
func (m *MetricsCollector) RecordError(errorType, service string) {
	m.errorsTotal.WithLabelValues(errorType, service).Inc()
}
