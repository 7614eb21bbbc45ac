package core

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// TTLCache is the shared read-mostly cache used for tool discovery and
// provider resolution. Entries expire after a bounded TTL and the cache is
// size-bounded, so it can never grow without limit or serve arbitrarily stale
// state.
//
// Values must be treated as immutable snapshots: updates replace the whole
// entry (copy-on-write), never mutate a stored value in place, so concurrent
// readers always observe a consistent snapshot.
type TTLCache[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewTTLCache creates a cache holding at most size entries, each valid for ttl.
func NewTTLCache[K comparable, V any](size int, ttl time.Duration) *TTLCache[K, V] {
	if size <= 0 {
		size = 128
	}
	return &TTLCache[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// Get returns the cached snapshot for key, if present and unexpired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Put replaces the snapshot for key.
func (c *TTLCache[K, V]) Put(key K, value V) {
	c.lru.Add(key, value)
}

// Invalidate removes the snapshot for key.
func (c *TTLCache[K, V]) Invalidate(key K) {
	c.lru.Remove(key)
}

// Purge drops every entry. Tests use this to guarantee a cold cache.
func (c *TTLCache[K, V]) Purge() {
	c.lru.Purge()
}

// Len reports the current entry count.
func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}
