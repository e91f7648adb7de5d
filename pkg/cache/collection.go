// Copyright 2024-2026 Aiku AI

// Package cache provides the bounded, concurrency-safe keyed collection
// used for every entity kind the client remembers.
package cache

import "sync"

// Collection is a keyed map with an optional size bound. When the bound is
// reached new keys are dropped; existing entries are never evicted and may
// still be overwritten. All methods are safe for concurrent use.
type Collection[K comparable, V any] struct {
	mu      sync.RWMutex
	items   map[K]V
	maxSize int
}

// New returns an empty collection. A maxSize <= 0 means unbounded.
func New[K comparable, V any](maxSize int) *Collection[K, V] {
	return &Collection[K, V]{
		items:   make(map[K]V),
		maxSize: maxSize,
	}
}

// MaxSize returns the bound, or 0 when unbounded.
func (c *Collection[K, V]) MaxSize() int {
	if c.maxSize < 0 {
		return 0
	}
	return c.maxSize
}

// Get returns the value stored under key.
func (c *Collection[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// Has reports whether key is present.
func (c *Collection[K, V]) Has(key K) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.items[key]
	return ok
}

// Set stores value under key. It returns false when the collection is full
// and key is not already present, in which case nothing is stored.
func (c *Collection[K, V]) Set(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.items[key]; !exists && c.maxSize > 0 && len(c.items) >= c.maxSize {
		return false
	}
	c.items[key] = value
	return true
}

// Delete removes key and reports whether it was present.
func (c *Collection[K, V]) Delete(key K) bool {
	_, ok := c.Take(key)
	return ok
}

// Take removes key and returns the value it held.
func (c *Collection[K, V]) Take(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if ok {
		delete(c.items, key)
	}
	return v, ok
}

// Update applies fn to the entry under key while holding the write lock
// and returns the stored result. It returns false if key is absent.
func (c *Collection[K, V]) Update(key K, fn func(*V)) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	if !ok {
		return v, false
	}
	fn(&v)
	c.items[key] = v
	return v, true
}

// Filter returns every value for which keep returns true. keep must not
// call back into the collection.
func (c *Collection[K, V]) Filter(keep func(K, V) bool) []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []V
	for k, v := range c.items {
		if keep(k, v) {
			out = append(out, v)
		}
	}
	return out
}

// Find returns any one value for which match returns true.
func (c *Collection[K, V]) Find(match func(K, V) bool) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for k, v := range c.items {
		if match(k, v) {
			return v, true
		}
	}
	var zero V
	return zero, false
}

// Values returns a snapshot of all values in unspecified order.
func (c *Collection[K, V]) Values() []V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]V, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}

// Keys returns a snapshot of all keys in unspecified order.
func (c *Collection[K, V]) Keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]K, 0, len(c.items))
	for k := range c.items {
		out = append(out, k)
	}
	return out
}

// Len returns the number of entries.
func (c *Collection[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes every entry.
func (c *Collection[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.items)
}
