// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package catalog

import (
	"sync"
)

// Catalog holds the current snapshot behind a read-write lock. The write
// lock is taken only for the O(1) pointer swap; the compile work happens
// outside any critical section, so readers never wait on a refresh.
type Catalog struct {
	mu      sync.RWMutex
	current *Snapshot
}

// New returns an uninitialised catalog. Snapshot() serves an empty catalog
// until the first refresh swaps a build in.
func New() *Catalog {
	return &Catalog{}
}

// Snapshot returns the current coherent snapshot. Callers use the returned
// value lock-free; concurrent refreshes never mutate it.
func (c *Catalog) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.current == nil {
		return emptySnapshot()
	}
	return c.current
}

// Ready reports whether at least one refresh has completed. Tool calls
// against a not-ready catalog surface 503; listings degrade to empty.
func (c *Catalog) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current != nil
}

// swap atomically publishes a new snapshot.
func (c *Catalog) swap(s *Snapshot) {
	c.mu.Lock()
	c.current = s
	c.mu.Unlock()
}
