// Package serviceclient provides a resilient client for service-to-service
// calls routed through the ThinkReality API gateway. It composes, per call:
//
//   - Circuit breaking per target service (closed / open / half-open, with a
//     rolling outcome window and a single recovery probe)
//   - Retries with exponential backoff + jitter, bounded by attempts and deadline
//   - In-memory response caching for idempotent calls, keyed by request fingerprint
//   - Failure classification separating "service is down" from "my request was bad"
//   - Request de-duplication (merges concurrent identical in-flight calls)
//   - Client-side rate limiting (token bucket)
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Extensibility via pluggable Transport, Cache, Clock and metrics
//
// Typical usage:
//
//	client := serviceclient.New(
//	    serviceclient.WithGateway("http://gateway:8080", "billing", token),
//	    serviceclient.WithMaxAttempts(3),
//	    serviceclient.WithCache(time.Minute),
//	    serviceclient.WithMetrics(),
//	)
//	resp, err := client.Get(ctx, "users", "/v1/users/42")
//
// Only transient failures (timeouts, connection errors, 502/503/504) trigger
// retries and count toward the circuit breaker by default. Client errors such
// as 404 fail immediately without affecting breaker state; override with
// WithClassifier / CountFatalFailures when that is not what you want.
package serviceclient
