// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache holds proxied head-end images, in memory or in Redis.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/u7d/internal/metrics"
)

// Cache stores opaque values with an expiry.
type Cache interface {
	// Get returns the value for key, or false when absent or expired.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Set stores value for ttl. Failures are logged, never returned.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Stats() Stats
	Close() error
}

// Stats holds cache counters.
type Stats struct {
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	Size      int
}

// DefaultMaxEntries bounds the memory cache.
const DefaultMaxEntries = 2048

type entry struct {
	value      []byte
	expiration time.Time
}

// Memory is the in-process Cache.
type Memory struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	stats      Stats
	now        func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemory returns a memory cache bounded to maxEntries (<=0 means
// DefaultMaxEntries). A positive cleanupInterval starts a janitor that
// Close stops.
func NewMemory(maxEntries int, cleanupInterval time.Duration) *Memory {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	c := &Memory{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        time.Now,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	} else {
		close(c.done)
	}
	return c
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || c.now().After(e.expiration) {
		c.stats.Misses++
		metrics.ImageCacheTotal.WithLabelValues("memory", "miss").Inc()
		return nil, false
	}
	c.stats.Hits++
	metrics.ImageCacheTotal.WithLabelValues("memory", "hit").Inc()
	return e.value, true
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		if c.deleteExpiredLocked() == 0 {
			// Full of live entries: drop one.
			for k := range c.entries {
				delete(c.entries, k)
				c.stats.Evictions++
				break
			}
		}
	}
	c.entries[key] = entry{value: value, expiration: c.now().Add(ttl)}
	c.stats.Sets++
}

func (c *Memory) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

// Close stops the janitor and waits for it.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	<-c.done
	return nil
}

func (c *Memory) deleteExpiredLocked() int {
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if now.After(e.expiration) {
			delete(c.entries, k)
			n++
		}
	}
	c.stats.Evictions += int64(n)
	return n
}

func (c *Memory) janitor(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.deleteExpiredLocked()
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}
