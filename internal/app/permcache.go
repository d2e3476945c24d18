package app

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/rbac"
)

// NewPermissionCache builds the decision cache selected by
// PERM_CACHE_BACKEND. Both the server and the worker go through here
// so a redis deployment shares one cache across processes. The
// returned cleanup closes the redis client; for the memory backend it
// is a no-op.
func NewPermissionCache(ctx context.Context, cfg *Config, logger *slog.Logger) (rbac.PermissionCache, func(), error) {
	switch cfg.PermCacheBackend {
	case "redis":
		client, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
		return rbac.NewRedisCache(client, cfg.PermCacheTTL, logger), cleanup, nil
	default:
		return rbac.NewMemoryCache(cfg.PermCacheTTL), func() {}, nil
	}
}
