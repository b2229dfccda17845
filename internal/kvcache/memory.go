// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package kvcache

import (
	"context"
	"sync"
)

// MemoryCache is a process-local cache. ExternalSet and ExternalRemove
// simulate writes from another process and are delivered to watchers.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]string
	feed    feed
	ch      chan Change
	ctx     context.Context
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]string)}
}

// Get returns the value for key.
func (c *MemoryCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

// Set stores value under key.
func (c *MemoryCache) Set(key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.feed.noteLocal(key, value, true)
	return nil
}

// Remove deletes key.
func (c *MemoryCache) Remove(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.feed.noteLocal(key, "", false)
	return nil
}

// Watch streams ExternalSet/ExternalRemove calls.
func (c *MemoryCache) Watch(ctx context.Context) (<-chan Change, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.feed.start(copyEntries(c.entries)); err != nil {
		return nil, err
	}
	c.ch = make(chan Change, 16)
	c.ctx = ctx

	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		c.feed.stop()
		close(c.ch)
		c.ch = nil
	}()
	return c.ch, nil
}

// ExternalSet writes key as if another process had done it.
func (c *MemoryCache) ExternalSet(key, value string) {
	c.external(func() { c.entries[key] = value })
}

// ExternalRemove removes key as if another process had done it.
func (c *MemoryCache) ExternalRemove(key string) {
	c.external(func() { delete(c.entries, key) })
}

func (c *MemoryCache) external(mutate func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mutate()
	if c.ch == nil {
		return
	}
	send(c.ctx, c.ch, c.feed.diff(c.entries))
}

// Close is a no-op.
func (c *MemoryCache) Close() error {
	return nil
}
