package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheTTL(t *testing.T) {
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return clock }

	userID := uuid.New()
	pm := PermissionMap{"stock.products.read": {{Effect: EffectAllow}}}
	ctx := context.Background()

	_, ok := c.Get(ctx, userID)
	assert.False(t, ok)

	c.Set(ctx, userID, pm)
	got, ok := c.Get(ctx, userID)
	require.True(t, ok)
	assert.Equal(t, pm, got)

	clock = clock.Add(59 * time.Second)
	_, ok = c.Get(ctx, userID)
	assert.True(t, ok)

	clock = clock.Add(2 * time.Second)
	_, ok = c.Get(ctx, userID)
	assert.False(t, ok)
}

func TestMemoryCacheInvalidateAndClear(t *testing.T) {
	c := NewMemoryCache(time.Minute)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	c.Set(ctx, alice, PermissionMap{})
	c.Set(ctx, bob, PermissionMap{})

	c.Invalidate(ctx, alice)
	_, ok := c.Get(ctx, alice)
	assert.False(t, ok)
	_, ok = c.Get(ctx, bob)
	assert.True(t, ok)

	c.Clear(ctx)
	_, ok = c.Get(ctx, bob)
	assert.False(t, ok)
}

func newTestRedisCache(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisCache(client, time.Minute, nil), srv
}

func TestRedisCacheRoundTrip(t *testing.T) {
	c, srv := newTestRedisCache(t)
	ctx := context.Background()
	userID := uuid.New()
	pm := PermissionMap{
		"stock.products.read": {{Effect: EffectAllow, GroupID: uuid.New()}},
		"hr.payroll.approve":  {{Effect: EffectDeny, GroupID: uuid.New()}},
	}

	_, ok := c.Get(ctx, userID)
	assert.False(t, ok)

	c.Set(ctx, userID, pm)
	got, ok := c.Get(ctx, userID)
	require.True(t, ok)
	assert.Equal(t, pm, got)

	// Expiry is enforced by Redis key TTL.
	srv.FastForward(2 * time.Minute)
	_, ok = c.Get(ctx, userID)
	assert.False(t, ok)
}

func TestRedisCacheInvalidateAndClear(t *testing.T) {
	c, _ := newTestRedisCache(t)
	ctx := context.Background()
	alice, bob := uuid.New(), uuid.New()
	c.Set(ctx, alice, PermissionMap{})
	c.Set(ctx, bob, PermissionMap{})

	c.Invalidate(ctx, alice)
	_, ok := c.Get(ctx, alice)
	assert.False(t, ok)
	_, ok = c.Get(ctx, bob)
	assert.True(t, ok)

	c.Clear(ctx)
	_, ok = c.Get(ctx, bob)
	assert.False(t, ok)
}

func TestRedisCacheCorruptPayloadIsMiss(t *testing.T) {
	c, srv := newTestRedisCache(t)
	userID := uuid.New()
	require.NoError(t, srv.Set("rbac:permmap:"+userID.String(), "{not json"))

	_, ok := c.Get(context.Background(), userID)
	assert.False(t, ok)
}

func TestRedisCacheServerDownIsMiss(t *testing.T) {
	c, srv := newTestRedisCache(t)
	srv.Close()

	_, ok := c.Get(context.Background(), uuid.New())
	assert.False(t, ok)
}
