// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"sync"
	"time"
)

// maxMemoryCacheEntries bounds the in-process cache. When full, expired
// entries are evicted first; otherwise the write is dropped, which only
// costs a recomputation.
const maxMemoryCacheEntries = 10_000

// timedEntry wraps a cached access set with its expiry.
type timedEntry struct {
	servers   []string
	expiresAt time.Time
}

// MemoryCache is the in-process cache backend: a TTL map with a
// background sweep. Suitable for single-replica deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]timedEntry
	ttl     time.Duration
	done    chan struct{}
	once    sync.Once
}

var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache builds the cache and starts its sweep loop.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]timedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// Get returns the cached access set if it has not expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.servers, true
}

// Set stores the access set with the configured TTL.
func (c *MemoryCache) Set(_ context.Context, key string, servers []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= maxMemoryCacheEntries {
		c.evictExpiredLocked()
		if len(c.entries) >= maxMemoryCacheEntries {
			return
		}
	}
	c.entries[key] = timedEntry{
		servers:   servers,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Close stops the sweep loop. Idempotent.
func (c *MemoryCache) Close() {
	c.once.Do(func() { close(c.done) })
}

// sweep drops expired entries periodically so the map does not grow with
// one entry per caller forever.
func (c *MemoryCache) sweep() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.evictExpiredLocked()
			c.mu.Unlock()
		}
	}
}

func (c *MemoryCache) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}
