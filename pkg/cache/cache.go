// Package cache implements a bounded, TTL-aware memo of prior operation
// results keyed by operation fingerprints.
//
// Capacity pressure evicts the least-recently-used entry; when a TTL is
// configured, expired entries are treated as misses on read and removed, and
// an optional background sweep reclaims entries that are never read again.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds cache construction parameters.
type Config struct {
	// Capacity is the maximum number of entries. Non-positive disables the
	// bound.
	Capacity int

	// TTL is the entry lifetime. Zero disables expiry.
	TTL time.Duration

	// SweepInterval enables a background goroutine that periodically
	// removes expired entries. Zero disables the sweep; expired entries
	// are then only reclaimed lazily on read or via CleanupExpired.
	SweepInterval time.Duration

	// Logger receives debug-level eviction events. Nil disables logging.
	Logger *zap.Logger
}

// Stats holds cache performance counters. HitRate is hits over total lookups.
type Stats struct {
	Size      int     `json:"size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

type entry struct {
	fingerprint string
	value       interface{}
	storedAt    time.Time
	lastAccess  time.Time
	expiresAt   time.Time // zero when TTL is disabled
	element     *list.Element
}

// Cache is a fixed-capacity LRU result cache. Safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[string]*entry
	lru      *list.List // front = most recently used

	hits      int64
	misses    int64
	evictions int64

	logger    *zap.Logger
	sweepStop chan struct{}
	sweepOnce sync.Once

	now func() time.Time
}

// New creates a cache. When cfg.SweepInterval is set the returned cache owns
// a background sweeper; call Close to stop it.
func New(cfg Config) *Cache {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		capacity: cfg.Capacity,
		ttl:      cfg.TTL,
		entries:  make(map[string]*entry),
		lru:      list.New(),
		logger:   logger,
		now:      time.Now,
	}
	if cfg.SweepInterval > 0 && cfg.TTL > 0 {
		c.sweepStop = make(chan struct{})
		go c.sweep(cfg.SweepInterval)
	}
	return c
}

// Get returns the cached value for the fingerprint. An expired entry counts
// as a miss and is removed.
func (c *Cache) Get(fingerprint string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if c.expired(e, now) {
		c.remove(e)
		c.evictions++
		c.misses++
		return nil, false
	}

	e.lastAccess = now
	c.lru.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set stores a value under the fingerprint, evicting the least-recently-used
// entry when the cache is at capacity.
func (c *Cache) Set(fingerprint string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if e, ok := c.entries[fingerprint]; ok {
		e.value = value
		e.storedAt = now
		e.lastAccess = now
		if c.ttl > 0 {
			e.expiresAt = now.Add(c.ttl)
		}
		c.lru.MoveToFront(e.element)
		return
	}

	if c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOldest()
	}

	e := &entry{
		fingerprint: fingerprint,
		value:       value,
		storedAt:    now,
		lastAccess:  now,
	}
	if c.ttl > 0 {
		e.expiresAt = now.Add(c.ttl)
	}
	e.element = c.lru.PushFront(e)
	c.entries[fingerprint] = e
}

// Remove deletes the entry for the fingerprint, if present.
func (c *Cache) Remove(fingerprint string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[fingerprint]
	if !ok {
		return false
	}
	c.remove(e)
	return true
}

// CleanupExpired removes every expired entry and returns the count removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.entries {
		if c.expired(e, now) {
			c.remove(e)
			c.evictions++
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the cache counters. Safe to poll at any time.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{
		Size:      len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

// Size returns the number of live entries.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes all entries without touching the hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.lru = list.New()
}

// Close stops the background sweeper, if one is running.
func (c *Cache) Close() {
	if c.sweepStop == nil {
		return
	}
	c.sweepOnce.Do(func() { close(c.sweepStop) })
}

func (c *Cache) expired(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (c *Cache) remove(e *entry) {
	c.lru.Remove(e.element)
	delete(c.entries, e.fingerprint)
}

func (c *Cache) evictOldest() {
	oldest := c.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	c.remove(e)
	c.evictions++
	c.logger.Debug("evicted cache entry", zap.String("fingerprint", e.fingerprint))
}

func (c *Cache) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				c.logger.Debug("swept expired cache entries", zap.Int("count", n))
			}
		case <-c.sweepStop:
			return
		}
	}
}
