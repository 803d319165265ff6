// Package cache holds the bounded, recency ordered version history cache.
package cache

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the number of apps whose version history is kept
const DefaultCapacity = 50

// Entry is one key/value pair of a Snapshot
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// LRU is a fixed capacity map that evicts the least recently used key
type LRU[K comparable, V any] struct {
	mu  sync.Mutex
	lru *simplelru.LRU[K, V]
}

// NewLRU creates an LRU holding at most capacity keys
func NewLRU[K comparable, V any](capacity int) (*LRU[K, V], error) {
	l, err := simplelru.NewLRU[K, V](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	return &LRU[K, V]{lru: l}, nil
}

// Has reports whether key is cached without touching its recency
func (c *LRU[K, V]) Has(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Get returns the value for key and marks it most recently used
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Put inserts or updates key and marks it most recently used. It reports
// whether the least recently used key had to be evicted to make room.
func (c *LRU[K, V]) Put(key K, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Add(key, value)
}

// Remove drops key from the cache
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Remove(key)
}

// Len returns the number of cached keys
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Keys returns the cached keys from oldest to newest
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Snapshot returns every entry from oldest to newest without changing the
// recency order, ready to be persisted and fed back through Put.
func (c *LRU[K, V]) Snapshot() []Entry[K, V] {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := c.lru.Keys()
	out := make([]Entry[K, V], 0, len(keys))
	for _, k := range keys {
		v, _ := c.lru.Peek(k)
		out = append(out, Entry[K, V]{Key: k, Value: v})
	}
	return out
}
