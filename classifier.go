package serviceclient

import (
	"context"
	"errors"
	"net"
)

// DefaultRetryableStatusCodes are the status codes classified as
// RetryableFailure by the default classifier.
var DefaultRetryableStatusCodes = map[int]bool{
	502: true,
	503: true,
	504: true,
}

// NewClassifier builds a Classifier from a retryable status set and a success
// predicate. Transport errors are retryable except for context cancellation,
// which means the caller gave up, not that the service is down.
func NewClassifier(retryable map[int]bool, isSuccess func(statusCode int) bool) Classifier {
	return func(resp *Response, err error) Classification {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return FatalFailure
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return RetryableFailure
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return RetryableFailure
			}
			// Connection refused, reset, DNS failures and the like.
			return RetryableFailure
		}
		if resp == nil {
			return RetryableFailure
		}
		if retryable[resp.StatusCode] {
			return RetryableFailure
		}
		if isSuccess(resp.StatusCode) {
			return Success
		}
		return FatalFailure
	}
}

// DefaultIsSuccess treats 2xx and 3xx statuses as success. 4xx responses are
// fatal (the request was bad), 5xx outside the retryable set likewise.
func DefaultIsSuccess(statusCode int) bool {
	return statusCode >= 200 && statusCode < 400
}

// DefaultClassifier is the classifier used when none is configured.
var DefaultClassifier = NewClassifier(DefaultRetryableStatusCodes, DefaultIsSuccess)
