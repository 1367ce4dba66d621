// Package cache implements the bounded-age, fingerprint-keyed response
// cache (§4.2). It enforces single-flight per key via
// golang.org/x/sync/singleflight so that concurrent callers computing the
// same key share one in-flight computation and one result.
package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nyxveil/corona/internal/clock"
)

// Config holds the cache's tuning knobs (§4.2). Zero values take the
// documented defaults.
type Config struct {
	// TTL is how long an entry remains fresh. Default: 60s.
	TTL time.Duration
	// MaxEntries caps the number of entries by count. Default: 1024.
	MaxEntries int
	// MaxBytes caps the total size of cached values. Default: 64 MiB.
	MaxBytes uint64
}

const (
	defaultTTL        = 60 * time.Second
	defaultMaxEntries = 1024
	defaultMaxBytes   = 64 << 20
)

// entry is one cached value plus its LRU list element.
type entry struct {
	key      string
	value    []byte
	inserted time.Time
	hits     uint64
	elem     *list.Element
}

// Cache is a bounded-age, size-capped, fingerprint-keyed cache with
// single-flight computation. All exported methods are safe for concurrent
// use.
type Cache struct {
	clock clock.Clock
	ttl   time.Duration
	maxN  int
	maxB  uint64

	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List // front = most recently used
	curBytes uint64

	group singleflight.Group
}

// New creates a [Cache] with the given configuration, using clk as its time
// source.
func New(clk clock.Clock, cfg Config) *Cache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxN := cfg.MaxEntries
	if maxN <= 0 {
		maxN = defaultMaxEntries
	}
	maxB := cfg.MaxBytes
	if maxB == 0 {
		maxB = defaultMaxBytes
	}
	return &Cache{
		clock:   clk,
		ttl:     ttl,
		maxN:    maxN,
		maxB:    maxB,
		entries: make(map[string]*entry),
		lru:     list.New(),
	}
}

// Get returns the value for key if present and not expired, and updates its
// hit count and LRU recency. The returned slice must not be mutated by the
// caller — it is the cache's owned copy's backing array; clone before
// mutating.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.inserted) >= c.ttl {
		c.removeLocked(e)
		return nil, false
	}
	e.hits++
	c.lru.MoveToFront(e.elem)
	return e.value, true
}

// Put inserts or replaces the entry for key, evicting least-recently-used
// entries until the cache is within its size cap.
func (c *Cache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.putLocked(key, value)
}

func (c *Cache) putLocked(key string, value []byte) {
	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	e := &entry{key: key, value: value, inserted: c.clock.Now()}
	e.elem = c.lru.PushFront(e)
	c.entries[key] = e
	c.curBytes += uint64(len(value))

	c.evictLocked()
}

// evictLocked removes least-recently-used entries until both caps are
// satisfied. Must be called with c.mu held.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxN || c.curBytes > c.maxB {
		back := c.lru.Back()
		if back == nil {
			return
		}
		c.removeLocked(back.Value.(*entry))
	}
}

// removeLocked deletes e from both the map and the LRU list. Must be called
// with c.mu held.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.lru.Remove(e.elem)
	c.curBytes -= uint64(len(e.value))
}

// Invalidate removes the entry for key, if present.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

// Sweep removes all entries older than the TTL. Safe to call opportunistically;
// callers MUST invoke it at least every ttl/2 to bound memory held by dead
// entries between Get calls.
func (c *Cache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	var stale []*entry
	for _, e := range c.entries {
		if now.Sub(e.inserted) >= c.ttl {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		c.removeLocked(e)
	}
}

// Len returns the current number of live entries. Exposed for diagnostics
// and tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// ComputeFunc produces the value for a cache miss.
type ComputeFunc func() ([]byte, error)

// GetOrCompute returns the cached value for key if fresh, otherwise calls
// compute exactly once across all concurrent callers sharing key (§4.2
// single-flight contract) and caches the result. If compute fails, the
// pending marker is cleared, every waiter receives the same error, and
// nothing is cached (§4.2 failure semantics).
func (c *Cache) GetOrCompute(key string, compute ComputeFunc) ([]byte, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under single-flight in case a concurrent Do completed
		// between our Get above and acquiring the flight.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		value, err := compute()
		if err != nil {
			return nil, err
		}
		c.Put(key, value)
		return value, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}
