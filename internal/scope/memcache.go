package scope

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemCache is an in-process Cache backed by a TTL-bounded LRU, used when no distributed cache backend is
// configured. Entries still expire on their own; there is no cross-instance invalidation, so operators running more
// than one proxy instance should prefer the distributed backend.
type MemCache struct {
	lru *lru.LRU[string, *Scope]
}

// NewMemCache creates an in-memory scope cache holding up to maxEntries scopes, each expiring after ttl regardless of
// the ttl passed to Put.
func NewMemCache(maxEntries int, ttl time.Duration) *MemCache {
	return &MemCache{lru: lru.NewLRU[string, *Scope](maxEntries, nil, ttl)}
}

func (c *MemCache) Get(_ context.Context, groupID string) (*Scope, bool, error) {
	sc, ok := c.lru.Get(groupID)
	return sc, ok, nil
}

func (c *MemCache) Put(_ context.Context, groupID string, sc *Scope, _ time.Duration) error {
	c.lru.Add(groupID, sc)
	return nil
}

func (c *MemCache) Remove(_ context.Context, groupID string) error {
	c.lru.Remove(groupID)
	return nil
}

func (c *MemCache) RemoveAll(_ context.Context) error {
	c.lru.Purge()
	return nil
}
