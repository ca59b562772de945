package serviceclient

import (
	"context"
	"sync"
	"time"
)

// DeduplicationEntry represents an in-flight call whose result is shared
// between the owning caller and any waiters that arrived while it ran.
type DeduplicationEntry struct {
	response *Response
	err      error
	done     chan struct{}
	mu       sync.Mutex
	waiters  int
}

// DeduplicationTracker coalesces concurrent identical calls: the first
// caller for a key executes, later callers wait and receive the same result.
// Responses hold fully read bodies, so sharing them between callers is safe.
type DeduplicationTracker struct {
	mu      sync.RWMutex
	entries map[string]*DeduplicationEntry
}

// NewDeduplicationTracker returns an in-memory de-duplication tracker.
func NewDeduplicationTracker() *DeduplicationTracker {
	return &DeduplicationTracker{
		entries: make(map[string]*DeduplicationEntry),
	}
}

// GetOrCreateEntry returns an existing entry (owner=false) or creates a new
// one (owner=true). The owner must call Complete when its call finishes.
func (dt *DeduplicationTracker) GetOrCreateEntry(key string) (*DeduplicationEntry, bool) {
	dt.mu.Lock()
	defer dt.mu.Unlock()

	if entry, exists := dt.entries[key]; exists {
		entry.mu.Lock()
		entry.waiters++
		entry.mu.Unlock()
		return entry, false
	}

	entry := &DeduplicationEntry{
		done:    make(chan struct{}),
		waiters: 1,
	}
	dt.entries[key] = entry
	return entry, true
}

// Complete finalizes an entry and releases its waiters. The entry lingers
// briefly so a duplicate arriving just after completion still coalesces.
func (dt *DeduplicationTracker) Complete(key string, resp *Response, err error) {
	dt.mu.Lock()
	entry, exists := dt.entries[key]
	dt.mu.Unlock()

	if !exists {
		return
	}

	entry.mu.Lock()
	entry.response = resp
	entry.err = err
	close(entry.done)
	entry.mu.Unlock()

	time.AfterFunc(100*time.Millisecond, func() {
		dt.mu.Lock()
		delete(dt.entries, key)
		dt.mu.Unlock()
	})
}

// Wait blocks until the owning call completes or ctx is done.
func (entry *DeduplicationEntry) Wait(ctx context.Context) (*Response, error) {
	select {
	case <-entry.done:
		entry.mu.Lock()
		resp := entry.response
		err := entry.err
		entry.mu.Unlock()
		return resp, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// DeduplicationCondition decides whether a request may be coalesced with an
// identical in-flight one.
type DeduplicationCondition func(req *Request) bool

// DefaultDeduplicationCondition coalesces idempotent reads only. Coalescing
// writes would silently drop operations.
func DefaultDeduplicationCondition(req *Request) bool {
	return req.Method == "GET" || req.Method == "HEAD"
}
