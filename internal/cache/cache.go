package cache

// Package cache provides an in-memory TTL cache for data-source results, so
// repeated collection rounds within one investigation do not hammer the
// upstream monitoring systems with identical queries.

import (
	"context"
	"sync"
	"time"

	"github.com/opsprobe/opsprobe/internal/metrics"
)

// Cache defines the interface for caching operations.
type Cache interface {
	// Get retrieves a cached value by key.
	Get(ctx context.Context, key string) (interface{}, bool)

	// Set stores a value under key with the given TTL. A non-positive ttl
	// stores the value with the cache's default TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)

	// Delete removes a key.
	Delete(ctx context.Context, key string)

	// Clear removes all entries.
	Clear(ctx context.Context)

	// Len returns the number of live entries.
	Len() int

	// Close stops the background janitor.
	Close()
}

type entry struct {
	value     interface{}
	expiresAt time.Time
}

type ttlCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	defaultTTL time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a TTL cache with a background janitor that evicts expired
// entries once per minute.
func New(defaultTTL time.Duration) Cache {
	if defaultTTL <= 0 {
		defaultTTL = time.Minute
	}
	c := &ttlCache{
		entries:    make(map[string]entry),
		defaultTTL: defaultTTL,
		stopCh:     make(chan struct{}),
	}
	go c.janitor()
	return c
}

func (c *ttlCache) Get(ctx context.Context, key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		metrics.CacheHits.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.CacheHits.WithLabelValues("hit").Inc()
	return e.value, true
}

func (c *ttlCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *ttlCache) Delete(ctx context.Context, key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *ttlCache) Clear(ctx context.Context) {
	c.mu.Lock()
	c.entries = make(map[string]entry)
	c.mu.Unlock()
}

func (c *ttlCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	now := time.Now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

func (c *ttlCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

func (c *ttlCache) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.stopCh:
			return
		}
	}
}

// Noop returns a cache that stores nothing. Used when caching is disabled.
func Noop() Cache { return noopCache{} }

type noopCache struct{}

func (noopCache) Get(ctx context.Context, key string) (interface{}, bool) { return nil, false }
func (noopCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
}
func (noopCache) Delete(ctx context.Context, key string) {}
func (noopCache) Clear(ctx context.Context)              {}
func (noopCache) Len() int                               { return 0 }
func (noopCache) Close()                                 {}
