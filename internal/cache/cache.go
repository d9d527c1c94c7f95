// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides a process-local in-memory cache with TTL support.
// It is an optimization only: nothing may depend on an entry being present.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64 // successful Get operations
	Misses      int64 // Get operations that found nothing or an expired entry
	Sets        int64
	Evictions   int64 // expired entries removed by the janitor
	CurrentSize int
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type entry[V any] struct {
	value      V
	expiration time.Time
}

// Cache is a thread-safe TTL cache.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	clock   Clock

	hits, misses, sets, evictions atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock           Clock
	cleanupInterval time.Duration
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(o *options) { o.clock = c } }

// WithCleanupInterval starts a janitor that removes expired entries.
func WithCleanupInterval(d time.Duration) Option {
	return func(o *options) { o.cleanupInterval = d }
}

// New creates a cache. Call Stop to end the janitor if one was configured.
func New[V any](opts ...Option) *Cache[V] {
	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Cache[V]{
		entries: make(map[string]entry[V]),
		clock:   o.clock,
		stop:    make(chan struct{}),
	}
	if o.cleanupInterval > 0 {
		go c.janitor(o.cleanupInterval)
	}
	return c
}

// Get returns the value for key if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, found := c.entries[key]
	c.mu.RUnlock()

	if !found || !c.clock.Now().Before(e.expiration) {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl is ignored.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = entry[V]{value: value, expiration: c.clock.Now().Add(ttl)}
	c.mu.Unlock()
	c.sets.Add(1)
}

// Delete removes key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Sets:        c.sets.Load(),
		Evictions:   c.evictions.Load(),
		CurrentSize: size,
	}
}

// DeleteExpired removes expired entries and returns how many were removed.
func (c *Cache[V]) DeleteExpired() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if !now.Before(e.expiration) {
			delete(c.entries, key)
			count++
		}
	}
	c.evictions.Add(int64(count))
	return count
}

// Stop ends the janitor. Safe to call more than once.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[V]) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.DeleteExpired()
		case <-c.stop:
			return
		}
	}
}
