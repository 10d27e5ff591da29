package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loopwork-ai/governor/pkg/contracts"
)

// keyspacePrefix separates governor decisions from other tenants of the
// same Redis instance.
const keyspacePrefix = "governor:perm:"

// RedisCache is the shared decision cache for multi-node deployments.
// Redis applies the TTL itself; eviction is delegated to the server's
// maxmemory policy, so Evictions only counts TTL-expired reads observed
// by this node.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisCache creates a Redis-backed decision cache.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisCache{client: rdb, ttl: ttl}
}

// Get fetches a cached decision. Backend errors are returned so the caller
// can fail open to the persisted store; they are never mapped to a deny.
func (c *RedisCache) Get(ctx context.Context, key string) (*contracts.PermissionDecision, bool, error) {
	raw, err := c.client.Get(ctx, keyspacePrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.misses.Add(1)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get: %w", err)
	}

	var d contracts.PermissionDecision
	if err := json.Unmarshal(raw, &d); err != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		c.misses.Add(1)
		return nil, false, nil
	}

	c.hits.Add(1)
	return &d, true, nil
}

// Set stores a decision with the configured TTL. Last writer wins.
func (c *RedisCache) Set(ctx context.Context, key string, d *contracts.PermissionDecision) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("redis cache marshal: %w", err)
	}
	if err := c.client.Set(ctx, keyspacePrefix+key, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

// Invalidate removes every key belonging to an agent using cursor-based
// SCAN so large keyspaces never block the server.
func (c *RedisCache) Invalidate(ctx context.Context, agentID string) error {
	pattern := keyspacePrefix + agentPrefix(agentID) + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis cache del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Stats reports node-local hit/miss counters plus the live key count.
func (c *RedisCache) Stats(ctx context.Context) (Stats, error) {
	entries := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, keyspacePrefix+"*", 500).Result()
		if err != nil {
			return Stats{}, fmt.Errorf("redis cache scan: %w", err)
		}
		entries += len(keys)
		cursor = next
		if cursor == 0 {
			break
		}
	}

	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: entries,
	}, nil
}

// Close releases the underlying client connection pool.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
