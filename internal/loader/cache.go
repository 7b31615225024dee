/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package loader

import "sync"

// Handle is a resolved media reference. A nil Data defers to the device's
// native progressive streaming of Ref; a non-nil Data is a fully
// materialized local copy.
type Handle struct {
	Ref  string
	Data []byte
}

// Prefetched reports whether the handle carries materialized bytes.
func (h *Handle) Prefetched() bool {
	return h != nil && h.Data != nil
}

// BlobCache maps media references to materialized handles. Entries are
// created on first full download and never evicted within a session; the
// daily item count keeps it small.
type BlobCache struct {
	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewBlobCache creates an empty session cache.
func NewBlobCache() *BlobCache {
	return &BlobCache{handles: make(map[string]*Handle)}
}

// Get returns the cached handle for ref, if present.
func (c *BlobCache) Get(ref string) (*Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	handle, ok := c.handles[ref]
	return handle, ok
}

// Put stores a handle. Insert-only; a later Put for the same ref is a no-op
// so concurrent readers never observe a handle being swapped.
func (c *BlobCache) Put(ref string, handle *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.handles[ref]; !exists {
		c.handles[ref] = handle
	}
}

// Len returns the number of cached handles.
func (c *BlobCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.handles)
}
