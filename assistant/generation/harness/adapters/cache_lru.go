package adapters

import (
	"context"
	"slices"
	"time"

	ports "github.com/ZanzyTHEbar/guild-assistant/assistant/generation/harness/ports"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRUCache is a bounded cache whose entries also expire after a fixed TTL.
type LRUCache struct {
	lru *expirable.LRU[string, []byte]
}

// NewLRUCache creates a cache holding at most capacity entries for ttl each.
// A ttl of zero keeps entries until they are evicted by size.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LRUCache{lru: expirable.NewLRU[string, []byte](capacity, nil, ttl)}
}

// Get retrieves a copy of a value from the cache.
func (c *LRUCache) Get(_ context.Context, key string) ([]byte, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set stores a copy of value.
func (c *LRUCache) Set(_ context.Context, key string, value []byte) error {
	c.lru.Add(key, slices.Clone(value))
	return nil
}

// Delete removes a key from the cache.
func (c *LRUCache) Delete(_ context.Context, key string) error {
	c.lru.Remove(key)
	return nil
}

// Len returns the number of live entries.
func (c *LRUCache) Len() int { return c.lru.Len() }

// Ensure LRUCache implements the Cache interface.
var _ ports.Cache = (*LRUCache)(nil)
