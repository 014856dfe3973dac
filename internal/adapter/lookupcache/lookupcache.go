// Package lookupcache memoizes two read-mostly, write-rare lookups the
// core otherwise recomputes on every access: the state-chart's
// leaf-to-handler claim resolution (§4.6's ancestor walk) and a
// mailbox's per-type subscriber snapshot (§5's read/write-locked
// subscription table). Both are pure optimizations: a cache miss falls
// back to recomputing from the authoritative source, so a purge is
// always safe, never a correctness issue.
//
// Grounded on the teacher's internal/service/peer_enricher.go, which
// wraps hashicorp/golang-lru/v2 as a cache-aside layer in front of a
// slower lookup (there, a gRPC contact search; here, a tree walk or a
// locked map read).
package lookupcache

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultSize is used when a caller doesn't have a principled capacity
// in mind; both of this package's call sites run well under it in
// practice (a handful of active states, a handful of distinct message
// types per mailbox).
const DefaultSize = 256

// Cache is a thin generic wrapper around an LRU cache, kept separate from
// the hashicorp package so call sites depend on this package's (smaller,
// purge-capable) surface rather than the library directly.
type Cache[K comparable, V any] struct {
	lru *lru.Cache[K, V]
}

// New builds a Cache holding at most size entries. size <= 0 uses
// DefaultSize.
func New[K comparable, V any](size int) *Cache[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	c, _ := lru.New[K, V](size)
	return &Cache[K, V]{lru: c}
}

// Get returns the cached value for key, if present.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Add inserts or overwrites key's cached value.
func (c *Cache[K, V]) Add(key K, value V) {
	c.lru.Add(key, value)
}

// Purge drops every cached entry, trading a few recomputed misses for
// never serving a stale result after the underlying source of truth
// changes. The mailbox layer calls it on subscription changes; the
// state-chart cache is never purged, so a state's event table edited
// after the machine has started transitioning is not picked up.
func (c *Cache[K, V]) Purge() {
	c.lru.Purge()
}

// Len reports the current number of cached entries, for diagnostics.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}
