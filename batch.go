package serviceclient

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BatchRequest describes one element of a BatchCall fan-out.
type BatchRequest struct {
	Service  string
	Method   string
	Endpoint string
	Body     interface{}
	Options  []CallOption
}

// BatchResult holds the outcome of one BatchRequest. Exactly one of
// Response / Err is set.
type BatchResult struct {
	Response *Response
	Err      error
}

// BatchCall executes the given calls concurrently and returns one result per
// request, in order. Individual failures are collected per element rather
// than aborting the batch. concurrency bounds the number of calls in flight;
// values below 1 mean unbounded.
func (c *Client) BatchCall(ctx context.Context, requests []BatchRequest, concurrency int) []BatchResult {
	results := make([]BatchResult, len(requests))

	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			resp, err := c.Call(ctx, req.Service, req.Method, req.Endpoint, req.Body, req.Options...)
			results[i] = BatchResult{Response: resp, Err: err}
			return nil
		})
	}

	// Goroutines never return errors; Wait only fences completion.
	_ = g.Wait()
	return results
}
