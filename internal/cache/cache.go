// Package cache implements the TTL+LRU decision cache that fronts expensive
// planning and model-selection calls.
//
// A hit requires the entry to exist and not be past its expiry; expired
// entries found on lookup count as misses and are removed. Under capacity
// pressure the bottom 10% of entries by least-recent access are evicted
// before insert. A background sweeper independently removes expired entries
// on a fixed interval regardless of access pattern.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"ouroboros/internal/logging"
	"ouroboros/internal/metrics"
)

// entry is a cached decision value with expiry and access bookkeeping.
// Owned exclusively by the cache; destroyed on expiry sweep, explicit
// invalidation, or LRU eviction.
type entry[V any] struct {
	value       V
	expiresAt   time.Time
	lastAccess  time.Time
	accessSeq   uint64
	accessCount int64
}

// Cache is a concurrency-safe TTL+LRU cache. The cache is the only engine
// structure mutated concurrently by unrelated callers; hit/miss counters use
// atomics and entry mutation happens under one mutex.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]

	capacity   int
	defaultTTL time.Duration

	hits   atomic.Int64
	misses atomic.Int64
	seq    atomic.Uint64

	agg *metrics.Aggregator
	now func() time.Time

	sweepInterval time.Duration
	stopOnce      sync.Once
	stopCh        chan struct{}
	done          chan struct{}
}

// New creates a cache and starts its background sweeper. Call Stop when done.
func New[V any](capacity int, defaultTTL, sweepInterval time.Duration, agg *metrics.Aggregator) *Cache[V] {
	if capacity <= 0 {
		capacity = 256
	}
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	c := &Cache[V]{
		entries:       make(map[string]*entry[V]),
		capacity:      capacity,
		defaultTTL:    defaultTTL,
		agg:           agg,
		now:           time.Now,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Stop terminates the background sweeper. Idempotent.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done
	})
}

// Get looks up a cached decision. On hit the entry's last-access time and
// access counter are updated.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.miss()
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		// Expired entry found on lookup: treated as a miss and removed.
		delete(c.entries, key)
		c.miss()
		logging.CacheDebug("expired on lookup: %s", key)
		return zero, false
	}

	e.lastAccess = c.now()
	e.accessSeq = c.seq.Add(1)
	e.accessCount++
	c.hits.Add(1)
	if c.agg != nil {
		c.agg.CacheHit()
	}
	return e.value, true
}

func (c *Cache[V]) miss() {
	c.misses.Add(1)
	if c.agg != nil {
		c.agg.CacheMiss()
	}
}

// Put inserts a decision with the given ttl (defaultTTL when ttl <= 0).
// At capacity, the bottom 10% of entries by least-recent access are evicted
// first.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictLRU()
	}
	now := c.now()
	c.entries[key] = &entry[V]{
		value:      value,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
		accessSeq:  c.seq.Add(1),
	}
}

// GetOrCompute returns the cached decision or computes and caches it.
// Compute errors are not cached.
func (c *Cache[V]) GetOrCompute(key string, ttl time.Duration, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := compute()
	if err != nil {
		return v, err
	}
	c.Put(key, v, ttl)
	return v, nil
}

// Invalidate removes an entry. Reports whether it existed.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	delete(c.entries, key)
	return ok
}

// evictLRU removes the max(1, capacity/10) least-recently-accessed entries.
// Caller must hold mu.
func (c *Cache[V]) evictLRU() {
	n := c.capacity / 10
	if n < 1 {
		n = 1
	}

	type ranked struct {
		key string
		seq uint64
	}
	all := make([]ranked, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, ranked{key: k, seq: e.accessSeq})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })

	if n > len(all) {
		n = len(all)
	}
	for _, r := range all[:n] {
		delete(c.entries, r.key)
	}
	logging.CacheDebug("evicted %d LRU entries (capacity %d)", n, c.capacity)
}

// sweepLoop removes expired entries on a fixed interval.
func (c *Cache[V]) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.stopCh:
			return
		}
	}
}

// Sweep removes all expired entries now. Also called by the background loop.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		logging.CacheDebug("sweep removed %d expired entries", removed)
	}
	return removed
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats is a point-in-time view of cache health.
type Stats struct {
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
	Healthy  bool    `json:"healthy"`
}

// Stats reports size, capacity, hit/miss counts, hit rate, and health.
// A cold cache (under 100 lookups) is not considered unhealthy.
func (c *Cache[V]) Stats() Stats {
	hits := c.hits.Load()
	misses := c.misses.Load()
	total := hits + misses

	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	return Stats{
		Size:     c.Len(),
		Capacity: c.capacity,
		Hits:     hits,
		Misses:   misses,
		HitRate:  rate,
		Healthy:  rate > 0.5 || total < 100,
	}
}

// Key derives a stable cache key from prompt text and context pairs.
// Context keys are sorted before hashing so semantically identical calls
// with differently-ordered maps collide to the same key.
func Key(prompt string, context map[string]string) string {
	h := sha256.New()
	h.Write([]byte(prompt))

	keys := make([]string, 0, len(context))
	for k := range context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write([]byte(context[k]))
	}
	return hex.EncodeToString(h.Sum(nil))
}
