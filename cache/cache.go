// Package cache keeps completed record bodies close to the lookup path.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// MemoryCache is a thread-safe in-process cache with TTL expiration and LRU
// eviction. Values are copied on the way in and out.
type MemoryCache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	eviction   *list.List // front = most recently used
	maxSize    int
	defaultTTL time.Duration
	sweepEvery time.Duration
	now        func() time.Time

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

// MemoryConfig configures a MemoryCache.
type MemoryConfig struct {
	// MaxEntries bounds the number of cached records.
	MaxEntries int
	DefaultTTL time.Duration
	// SweepInterval is how often Run purges expired entries.
	SweepInterval time.Duration
}

// DefaultMemoryConfig returns defaults sized for a single service instance.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxEntries:    1000,
		DefaultTTL:    10 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// NewMemoryCache creates a MemoryCache. Non-positive settings fall back to
// DefaultMemoryConfig.
func NewMemoryCache(cfg MemoryConfig) *MemoryCache {
	def := DefaultMemoryConfig()
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	return &MemoryCache{
		items:      make(map[string]*list.Element, cfg.MaxEntries),
		eviction:   list.New(),
		maxSize:    cfg.MaxEntries,
		defaultTTL: cfg.DefaultTTL,
		sweepEvery: cfg.SweepInterval,
		now:        time.Now,
	}
}

// Get returns a copy of the cached value or ErrCacheMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, ErrCacheMiss
	}
	e := elem.Value.(*entry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		c.misses++
		return nil, ErrCacheMiss
	}

	c.eviction.MoveToFront(elem)
	c.hits++
	return append([]byte(nil), e.value...), nil
}

// Set stores value with the default TTL.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	return c.SetWithTTL(ctx, key, value, c.defaultTTL)
}

// SetWithTTL stores value with a specific TTL, evicting the least recently
// used entries when full.
func (c *MemoryCache) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	v := append([]byte(nil), value...)
	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry)
		e.value = v
		e.expiresAt = c.now().Add(ttl)
		c.eviction.MoveToFront(elem)
		return nil
	}

	for c.eviction.Len() >= c.maxSize {
		c.evictLocked()
	}
	c.items[key] = c.eviction.PushFront(&entry{key: key, value: v, expiresAt: c.now().Add(ttl)})
	return nil
}

// Stats holds cache counters.
type Stats struct {
	Size      int
	MaxSize   int
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate is hits over lookups, or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.eviction.Len(),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// PurgeExpired removes expired entries and returns how many were removed.
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	purged := 0
	var next *list.Element
	for el := c.eviction.Front(); el != nil; el = next {
		next = el.Next()
		if now.After(el.Value.(*entry).expiresAt) {
			c.removeLocked(el)
			purged++
		}
	}
	return purged
}

// Run purges expired entries every sweep interval until ctx ends.
func (c *MemoryCache) Run(ctx context.Context) error {
	t := time.NewTicker(c.sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.PurgeExpired()
		}
	}
}

func (c *MemoryCache) evictLocked() {
	back := c.eviction.Back()
	if back == nil {
		return
	}
	c.removeLocked(back)
	c.evictions++
}

func (c *MemoryCache) removeLocked(elem *list.Element) {
	delete(c.items, elem.Value.(*entry).key)
	c.eviction.Remove(elem)
}
