package serviceclient

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// Fingerprint derives a deterministic cache key from a request's
// identity-relevant fields: service, method, path, sorted query parameters
// and body. Identical requests to the same service and path always produce
// identical fingerprints.
func Fingerprint(req *Request) string {
	h := fnv.New64a()
	h.Write([]byte(req.Service))
	h.Write([]byte{0})
	h.Write([]byte(req.Method))
	h.Write([]byte{0})
	h.Write([]byte(req.Endpoint))
	h.Write([]byte{0})

	if len(req.Query) > 0 {
		keys := make([]string, 0, len(req.Query))
		for k := range req.Query {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			values := append([]string(nil), req.Query[k]...)
			sort.Strings(values)
			for _, v := range values {
				h.Write([]byte(k))
				h.Write([]byte{'='})
				h.Write([]byte(v))
				h.Write([]byte{'&'})
			}
		}
	}

	if len(req.Body) > 0 {
		bodyHash := sha256.Sum256(req.Body)
		h.Write(bodyHash[:])
	}

	return fmt.Sprintf("%s:%x", req.Service, h.Sum64())
}

// InMemoryCache is a sharded in-memory Cache. Shards keep unrelated
// fingerprints from contending on one lock; expired entries are evicted
// lazily on read.
type InMemoryCache struct {
	shards    []*cacheShard
	numShards int
	clock     Clock
}

type cacheShard struct {
	mu    sync.RWMutex
	store map[string]*CacheEntry
}

// NewInMemoryCache creates a cache with 16 shards on the real clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(NewRealClock())
}

// NewInMemoryCacheWithClock creates a cache that reads time from the given
// clock. Tests use this with a virtual clock to exercise TTL expiry without
// real sleeps.
func NewInMemoryCacheWithClock(clock Clock) *InMemoryCache {
	numShards := 16
	shards := make([]*cacheShard, numShards)
	for i := range shards {
		shards[i] = &cacheShard{store: make(map[string]*CacheEntry)}
	}
	return &InMemoryCache{
		shards:    shards,
		numShards: numShards,
		clock:     clock,
	}
}

func (c *InMemoryCache) getShard(key string) *cacheShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return c.shards[hash.Sum32()%uint32(c.numShards)]
}

// Get returns the entry for key, or absent when no entry exists or its TTL
// has elapsed.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	shard := c.getShard(key)

	shard.mu.RLock()
	entry, exists := shard.store[key]
	shard.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if !c.clock.Now().Before(entry.ExpiresAt) {
		shard.mu.Lock()
		if current, ok := shard.store[key]; ok && current == entry {
			delete(shard.store, key)
		}
		shard.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Set stores an entry under key with the given TTL.
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := c.clock.Now()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)
	shard.store[key] = entry
}

// Delete removes the entry for key.
func (c *InMemoryCache) Delete(key string) {
	shard := c.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.store, key)
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() {
	for _, shard := range c.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*CacheEntry)
		shard.mu.Unlock()
	}
}

// Len returns the current number of entries across all shards, including
// entries whose TTL has elapsed but which have not been read since.
func (c *InMemoryCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}

func cacheEntryFromResponse(resp *Response) *CacheEntry {
	return &CacheEntry{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       append([]byte(nil), resp.Body...),
	}
}

func responseFromCacheEntry(entry *CacheEntry) *Response {
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     entry.Header.Clone(),
		Body:       append([]byte(nil), entry.Body...),
	}
}

// DefaultCacheCondition caches idempotent read methods only.
func DefaultCacheCondition(req *Request) bool {
	return req.Method == "GET" || req.Method == "HEAD"
}
