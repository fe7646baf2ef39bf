// Package cache implements the sharded hot-route cache that sits between
// the routing snapshot and the full registry.
package cache

import (
	"sync"
	"sync/atomic"

	"github.com/searchktools/hotpath/core/router"
)

const (
	// ShardCount is the number of independent shards. Power of two so the
	// shard index is a mask of the route hash.
	ShardCount = 32
	shardMask  = ShardCount - 1

	// DefaultShardCapacity bounds the entries held by one shard
	DefaultShardCapacity = 128
)

type entry struct {
	hash  uint64
	route *router.Route

	// approximate use count driving eviction
	accesses atomic.Uint64
}

func newEntry(hash uint64, r *router.Route) *entry {
	e := &entry{hash: hash, route: r}
	e.accesses.Store(1)
	return e
}

type shard struct {
	// hot holds the most recently stored entry. It is read without a lock
	// and points at the same entry as the map, so hot-slot hits count
	// toward eviction order.
	hot atomic.Pointer[entry]

	mu      sync.RWMutex
	entries map[uint64]*entry
}

// HotCache maps route hashes to routes across 32 shards, each bounded
// with least-frequently-used eviction.
type HotCache struct {
	shards   [ShardCount]shard
	capacity int
	metrics  Metrics

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a HotCache
type Option func(*HotCache)

// WithShardCapacity sets the maximum entries per shard
func WithShardCapacity(n int) Option {
	return func(c *HotCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithMetrics reports hits, misses and evictions to m
func WithMetrics(m Metrics) Option {
	return func(c *HotCache) {
		if m != nil {
			c.metrics = m
		}
	}
}

// New creates an empty cache
func New(opts ...Option) *HotCache {
	c := &HotCache{
		capacity: DefaultShardCapacity,
		metrics:  NoopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[uint64]*entry, c.capacity)
	}
	return c
}

// Get looks up a route by its key
func (c *HotCache) Get(key string) (*router.Route, bool) {
	return c.Lookup(router.Hash(key))
}

// Lookup looks up a route by key hash. The hot slot is tried first
// without locking, then the shard map under its read lock.
func (c *HotCache) Lookup(hash uint64) (*router.Route, bool) {
	s := &c.shards[hash&shardMask]

	if e := s.hot.Load(); e != nil && e.hash == hash {
		e.accesses.Add(1)
		c.hit()
		return e.route, true
	}

	s.mu.RLock()
	e, ok := s.entries[hash]
	s.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		c.metrics.Miss()
		return nil, false
	}

	e.accesses.Add(1)
	c.hit()
	return e.route, true
}

func (c *HotCache) hit() {
	c.hits.Add(1)
	c.metrics.Hit()
}

// Set stores a route under its key
func (c *HotCache) Set(key string, r *router.Route) {
	c.Store(router.Hash(key), r)
}

// Store stores a route under hash and makes it the shard's hot entry.
// The hot slot is published before the shard lock is taken. Inserting a new hash into a full shard first evicts the entry with
// the lowest access count. Replacing an existing hash never evicts.
func (c *HotCache) Store(hash uint64, r *router.Route) {
	s := &c.shards[hash&shardMask]
	e := newEntry(hash, r)

	// Publish first; the hot slot never waits for an eviction scan
	s.hot.Store(e)

	s.mu.Lock()
	if old, ok := s.entries[hash]; ok {
		// e already counts one access, plus any hot-slot hits since publish
		e.accesses.Add(old.accesses.Load() - 1)
	} else if len(s.entries) >= c.capacity {
		if c.evictLocked(s) {
			c.metrics.Eviction()
		}
	}
	s.entries[hash] = e
	s.mu.Unlock()
}

// GetOrStore returns the cached route for hash, or calls load and caches
// its result. A nil result from load is not cached.
func (c *HotCache) GetOrStore(hash uint64, load func() *router.Route) (*router.Route, bool) {
	if r, ok := c.Lookup(hash); ok {
		return r, true
	}
	r := load()
	if r == nil {
		return nil, false
	}
	c.Store(hash, r)
	return r, true
}

// evictLocked removes the least accessed entry. Ties go to whichever
// entry map iteration yields first. Caller holds s.mu.
func (c *HotCache) evictLocked(s *shard) bool {
	var (
		victim uint64
		least  uint64
		found  bool
	)
	for h, e := range s.entries {
		n := e.accesses.Load()
		if !found || n < least {
			victim, least, found = h, n, true
		}
	}
	if !found {
		return false
	}
	if hot := s.hot.Load(); hot != nil && hot.hash == victim {
		s.hot.Store(nil)
	}
	delete(s.entries, victim)
	return true
}

// Clear removes every entry. Hit and miss counters are kept.
func (c *HotCache) Clear() {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		s.hot.Store(nil)
		clear(s.entries)
		s.mu.Unlock()
	}
}

// Stats returns the global hit and miss counts
func (c *HotCache) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// HitRate returns hits / (hits + misses), or 0 before any lookup
func (c *HotCache) HitRate() float64 {
	hits, misses := c.Stats()
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Len returns the number of cached entries across all shards
func (c *HotCache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}
