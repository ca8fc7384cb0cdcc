package cache

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, capacity int, ttl time.Duration) *Cache[string] {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New[string](capacity, ttl, logger)
}

func TestCacheGetSet(t *testing.T) {
	t.Parallel()

	t.Run("returns stored value", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)

		c.Set("a", "alpha", 0)
		got, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, "alpha", got)
	})

	t.Run("miss on absent key", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)

		_, ok := c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("overwrite replaces value without growing", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)

		c.Set("a", "first", 0)
		c.Set("a", "second", 0)

		got, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, "second", got)
		assert.Equal(t, 1, c.Len())
	})
}

func TestCacheLRUEviction(t *testing.T) {
	t.Parallel()

	t.Run("evicts least recently used at capacity", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 2, time.Minute)

		c.Set("a", "alpha", 0)
		c.Set("b", "beta", 0)
		c.Set("c", "gamma", 0)

		_, ok := c.Get("a")
		assert.False(t, ok, "oldest entry should be evicted")
		_, ok = c.Get("b")
		assert.True(t, ok)
		_, ok = c.Get("c")
		assert.True(t, ok)
		assert.Equal(t, 2, c.Len())
	})

	t.Run("get refreshes recency", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 2, time.Minute)

		c.Set("a", "alpha", 0)
		c.Set("b", "beta", 0)

		// Touch a so b becomes the eviction candidate.
		_, ok := c.Get("a")
		require.True(t, ok)

		c.Set("c", "gamma", 0)

		_, ok = c.Get("a")
		assert.True(t, ok, "recently read entry must survive")
		_, ok = c.Get("b")
		assert.False(t, ok)
	})

	t.Run("eviction increments counter", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 1, time.Minute)

		c.Set("a", "alpha", 0)
		c.Set("b", "beta", 0)

		assert.Equal(t, uint64(1), c.Stats().Evictions)
	})
}

func TestCacheTTL(t *testing.T) {
	t.Parallel()

	t.Run("expired entry is a miss", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return base }

		c.Set("a", "alpha", 30*time.Second)

		c.now = func() time.Time { return base.Add(31 * time.Second) }
		_, ok := c.Get("a")
		assert.False(t, ok)

		stats := c.Stats()
		assert.Equal(t, uint64(1), stats.Expired)
		assert.Equal(t, uint64(1), stats.Misses)
		assert.Equal(t, 0, stats.Size, "expired entry is removed on access")
	})

	t.Run("entry lives until exactly its deadline", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return base }

		c.Set("a", "alpha", 30*time.Second)

		c.now = func() time.Time { return base.Add(29 * time.Second) }
		_, ok := c.Get("a")
		assert.True(t, ok)

		c.now = func() time.Time { return base.Add(30 * time.Second) }
		_, ok = c.Get("a")
		assert.False(t, ok, "expiry deadline is exclusive")
	})

	t.Run("overwrite resets the deadline", func(t *testing.T) {
		t.Parallel()
		c := newTestCache(t, 10, time.Minute)
		base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		c.now = func() time.Time { return base }

		c.Set("a", "alpha", 30*time.Second)

		c.now = func() time.Time { return base.Add(20 * time.Second) }
		c.Set("a", "alpha2", 30*time.Second)

		c.now = func() time.Time { return base.Add(40 * time.Second) }
		got, ok := c.Get("a")
		require.True(t, ok)
		assert.Equal(t, "alpha2", got)
	})
}

func TestCacheSweep(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	c.Set("short", "v", 10*time.Second)
	c.Set("long", "v", 10*time.Minute)

	c.now = func() time.Time { return base.Add(time.Minute) }
	removed := c.sweep()

	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestCacheInvalidateAndClear(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.Set("a", "alpha", 0)
	c.Set("b", "beta", 0)

	c.Invalidate("a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestCacheStats(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 5, time.Minute)
	c.Set("a", "alpha", 0)

	_, _ = c.Get("a")       // hit
	_, _ = c.Get("a")       // hit
	_, _ = c.Get("missing") // miss

	stats := c.Stats()
	assert.Equal(t, uint64(2), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Size)
	assert.Equal(t, 5, stats.Capacity)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 1e-9)
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 50, time.Minute)
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d", j%60)
				c.Set(key, fmt.Sprintf("val-%d-%d", n, j), 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	// Capacity is a hard bound regardless of interleaving.
	assert.LessOrEqual(t, c.Len(), 50)
}

func TestCacheSweeperLifecycle(t *testing.T) {
	t.Parallel()

	c := newTestCache(t, 10, time.Minute)
	c.StartSweeper(10 * time.Millisecond)
	c.StartSweeper(10 * time.Millisecond) // second start is a no-op

	c.Set("a", "alpha", time.Nanosecond)
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 0, c.Len(), "sweeper should reclaim the expired entry")

	c.StopSweeper()
	c.StopSweeper() // stop after stop is safe
}
