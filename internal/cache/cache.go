// Package cache provides a bounded in-process key/value cache with
// per-entry TTL and strict LRU eviction. It backs both read-through
// caching and the analysis-result dedupe cache.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// DefaultTTL is used when Set is called with a non-positive TTL.
const DefaultTTL = 5 * time.Minute

// Stats is a point-in-time snapshot of cache counters. Counters are
// informational only; correctness does not depend on them.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Expired   uint64
	Size      int
	Capacity  int
	HitRate   float64
}

type entry[V any] struct {
	key            string
	value          V
	createdAt      time.Time
	expiresAt      time.Time
	lastAccessedAt time.Time
	hitCount       uint64
}

// Cache is a TTL-aware LRU cache. All operations are safe for concurrent
// use; a single mutex guards the map, the recency list and the counters so
// eviction order is always exact.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	recency  *list.List // front = most recently used
	capacity int
	ttl      time.Duration

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	logger *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// New creates a cache holding at most capacity live entries with the given
// default TTL. A capacity of zero or less falls back to 1 so Set can never
// grow unbounded.
func New[V any](capacity int, defaultTTL time.Duration, logger *slog.Logger) *Cache[V] {
	if capacity <= 0 {
		capacity = 1
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache[V]{
		entries:  make(map[string]*list.Element),
		recency:  list.New(),
		capacity: capacity,
		ttl:      defaultTTL,
		logger:   logger.With("component", "cache"),
		now:      time.Now,
	}
}

// Get returns the live value for key. An expired entry counts as a miss
// and is removed lazily. A hit refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}

	ent := elem.Value.(*entry[V])
	if !c.now().Before(ent.expiresAt) {
		c.removeLocked(elem)
		c.expired++
		c.misses++
		return zero, false
	}

	ent.lastAccessedAt = c.now()
	ent.hitCount++
	c.recency.MoveToFront(elem)
	c.hits++
	return ent.value, true
}

// Set inserts or overwrites the value for key. A non-positive ttl uses the
// cache default. If the insert pushes the live count past capacity, the
// least-recently-used entry is evicted.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.entries[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.createdAt = now
		ent.expiresAt = now.Add(ttl)
		ent.lastAccessedAt = now
		c.recency.MoveToFront(elem)
		return
	}

	elem := c.recency.PushFront(&entry[V]{
		key:            key,
		value:          value,
		createdAt:      now,
		expiresAt:      now.Add(ttl),
		lastAccessedAt: now,
	})
	c.entries[key] = elem

	for len(c.entries) > c.capacity {
		oldest := c.recency.Back()
		if oldest == nil {
			break
		}
		evicted := oldest.Value.(*entry[V])
		c.removeLocked(oldest)
		c.evictions++
		c.logger.Debug("evicted cache entry",
			"key", evicted.key,
			"size", len(c.entries),
			"capacity", c.capacity)
	}
}

// Invalidate removes the entry for key, if present.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		c.removeLocked(elem)
	}
}

// Clear removes all entries. Counters are preserved.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.recency.Init()
}

// Len returns the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
		Size:      len(c.entries),
		Capacity:  c.capacity,
		HitRate:   hitRate,
	}
}

// StartSweeper launches a goroutine that removes expired entries in batch
// every interval. Expiry is already enforced lazily on access; the sweeper
// only reclaims memory for entries that are never touched again.
func (c *Cache[V]) StartSweeper(interval time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweepStop != nil {
		return // already running
	}
	c.sweepStop = make(chan struct{})
	c.sweepDone = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				removed := c.sweep()
				if removed > 0 {
					c.logger.Debug("cache sweep removed expired entries", "count", removed)
				}
			}
		}
	}(c.sweepStop, c.sweepDone)
}

// StopSweeper stops the sweep goroutine and waits for it to exit.
func (c *Cache[V]) StopSweeper() {
	c.mu.Lock()
	stop, done := c.sweepStop, c.sweepDone
	c.sweepStop, c.sweepDone = nil, nil
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// sweep removes all expired entries and returns how many were removed.
func (c *Cache[V]) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for elem := c.recency.Back(); elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry[V])
		if !now.Before(ent.expiresAt) {
			c.removeLocked(elem)
			c.expired++
			removed++
		}
		elem = prev
	}
	return removed
}

// removeLocked unlinks an element from both structures. Caller holds mu.
func (c *Cache[V]) removeLocked(elem *list.Element) {
	ent := elem.Value.(*entry[V])
	c.recency.Remove(elem)
	delete(c.entries, ent.key)
}
