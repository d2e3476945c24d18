package rbac

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisCache is a PermissionCache backed by a shared Redis instance,
// for deployments that need cross-process invalidation. Redis errors
// degrade to cache misses; they never fail a permission check.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// NewRedisCache builds a RedisCache with the given TTL.
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, ttl: ttl, prefix: "rbac:permmap:", logger: logger}
}

func (c *RedisCache) key(userID uuid.UUID) string {
	return c.prefix + userID.String()
}

// Get fetches and decodes the cached map. TTL enforcement is delegated
// to Redis key expiry.
func (c *RedisCache) Get(ctx context.Context, userID uuid.UUID) (PermissionMap, bool) {
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("rbac cache get", slog.Any("error", err))
		}
		return nil, false
	}
	var pm PermissionMap
	if err := json.Unmarshal(raw, &pm); err != nil {
		c.logger.Warn("rbac cache decode", slog.Any("error", err))
		return nil, false
	}
	return pm, true
}

// Set encodes and stores the map with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, userID uuid.UUID, pm PermissionMap) {
	raw, err := json.Marshal(pm)
	if err != nil {
		c.logger.Warn("rbac cache encode", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, c.key(userID), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("rbac cache set", slog.Any("error", err))
	}
}

// Invalidate drops one user's entry.
func (c *RedisCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		c.logger.Warn("rbac cache invalidate", slog.Any("error", err))
	}
}

// Clear drops every cached map by scanning the key prefix.
func (c *RedisCache) Clear(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("rbac cache clear del", slog.Any("error", err))
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("rbac cache clear scan", slog.Any("error", err))
	}
}
