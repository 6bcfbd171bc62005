package scope

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// CachePrefix is the key prefix for cached scopes in Valkey.
	CachePrefix = "scope"

	// InvalidateChannel is the pub/sub channel used to broadcast scope cache invalidation.
	InvalidateChannel = "graphscopeproxy.scope.invalidate"

	scanBatchSize = 100
)

func cacheKey(groupID string) string {
	return CachePrefix + ":" + groupID
}

// Cache provides get/put/remove operations for materialized scopes, keyed by group ID.
type Cache interface {
	Get(ctx context.Context, groupID string) (*Scope, bool, error)
	Put(ctx context.Context, groupID string, sc *Scope, ttl time.Duration) error
	Remove(ctx context.Context, groupID string) error
	RemoveAll(ctx context.Context) error
}

// ValkeyCache implements Cache using Valkey/Redis.
type ValkeyCache struct {
	client *redis.Client
}

// NewValkeyCache creates a new Valkey-backed scope cache.
func NewValkeyCache(client *redis.Client) *ValkeyCache {
	return &ValkeyCache{client: client}
}

func (c *ValkeyCache) Get(ctx context.Context, groupID string) (*Scope, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(groupID)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("scope cache get: %w", err)
	}

	var sc Scope
	if err := json.Unmarshal(val, &sc); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached scope: %w", err)
	}
	return &sc, true, nil
}

func (c *ValkeyCache) Put(ctx context.Context, groupID string, sc *Scope, ttl time.Duration) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(groupID), data, ttl).Err(); err != nil {
		return fmt.Errorf("scope cache put: %w", err)
	}
	return nil
}

func (c *ValkeyCache) Remove(ctx context.Context, groupID string) error {
	if err := c.client.Del(ctx, cacheKey(groupID)).Err(); err != nil {
		return fmt.Errorf("scope cache remove: %w", err)
	}
	return nil
}

// RemoveAll evicts every cached scope under CachePrefix.
func (c *ValkeyCache) RemoveAll(ctx context.Context) error {
	return c.scanAndDelete(ctx, CachePrefix+":*")
}

func (c *ValkeyCache) scanAndDelete(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan keys %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("delete keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}
