// Package cache provides the in-process TTL cache used by every upstream
// adapter. Expiry is checked lazily on read; a background sweep removes
// expired entries and, when the cache is over capacity, evicts the least
// useful entries first.
package cache

import (
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxSize caps the number of live entries before the sweep starts
	// evicting.
	DefaultMaxSize = 1000
	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL = 5 * time.Minute
	// DefaultSweepInterval is how often the background sweep runs.
	DefaultSweepInterval = time.Minute
)

type entry struct {
	value       interface{}
	createdAt   time.Time
	ttl         time.Duration
	accessCount int
	lastAccess  time.Time
}

func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) > e.ttl
}

// Cache is a bounded TTL cache. Reads, writes and the background sweep all
// share one mutex; the sweep holds it while sorting eviction candidates,
// which stays cheap because the map is capped at maxSize.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxSize       int
	defaultTTL    time.Duration
	sweepInterval time.Duration

	stop chan struct{}
	done chan struct{}
}

// Option configures a Cache.
type Option func(*Cache)

// WithMaxSize overrides the capacity cap.
func WithMaxSize(n int) Option {
	return func(c *Cache) { c.maxSize = n }
}

// WithDefaultTTL overrides the TTL used when Set receives ttl <= 0.
func WithDefaultTTL(d time.Duration) Option {
	return func(c *Cache) { c.defaultTTL = d }
}

// WithSweepInterval overrides the background sweep cadence.
func WithSweepInterval(d time.Duration) Option {
	return func(c *Cache) { c.sweepInterval = d }
}

// New creates a cache and starts its background sweep. Call Close to stop it.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries:       make(map[string]*entry),
		maxSize:       DefaultMaxSize,
		defaultTTL:    DefaultTTL,
		sweepInterval: DefaultSweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	go c.sweepLoop()
	return c
}

// Get returns the value for key, or ok=false if absent or past its TTL.
// Expired entries are removed on read, not only by the sweep.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	now := time.Now()
	if e.expired(now) {
		delete(c.entries, key)
		return nil, false
	}
	e.accessCount++
	e.lastAccess = now
	return e.value, true
}

// Set stores value under key. A ttl <= 0 selects the default TTL. Replacement
// is atomic per key.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &entry{
		value:      value,
		createdAt:  now,
		ttl:        ttl,
		lastAccess: now,
	}
	c.mu.Unlock()
}

// Delete removes key and reports whether it was present.
func (c *Cache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		delete(c.entries, key)
		return true
	}
	return false
}

// Len returns the current number of live entries, counting expired entries
// not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close stops the background sweep and waits for it to drain.
func (c *Cache) Close() {
	close(c.stop)
	<-c.done
}

func (c *Cache) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

// sweep removes expired entries, then evicts the lowest
// (access_count, last_access) entries until under the capacity cap. Ordering
// by access count first means a recently created but never-read entry goes
// before a frequently read older one.
func (c *Cache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, e := range c.entries {
		if e.expired(now) {
			delete(c.entries, key)
		}
	}

	over := len(c.entries) - c.maxSize
	if over <= 0 {
		return
	}

	type candidate struct {
		key string
		e   *entry
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, e := range c.entries {
		candidates = append(candidates, candidate{key, e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].e, candidates[j].e
		if a.accessCount != b.accessCount {
			return a.accessCount < b.accessCount
		}
		return a.lastAccess.Before(b.lastAccess)
	})
	for _, cand := range candidates[:over] {
		delete(c.entries, cand.key)
	}
}
