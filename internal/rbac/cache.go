package rbac

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PermissionCache memoizes a user's effective permission map for a
// bounded time. Implementations must treat their own failures as a
// miss; the engine falls back to rebuilding from the repositories.
// Staleness is bounded by the TTL: writers invalidate the entries they
// know about, and everything else converges within one TTL window.
type PermissionCache interface {
	Get(ctx context.Context, userID uuid.UUID) (PermissionMap, bool)
	Set(ctx context.Context, userID uuid.UUID, pm PermissionMap)
	Invalidate(ctx context.Context, userID uuid.UUID)
	Clear(ctx context.Context)
}

// DefaultCacheTTL bounds staleness of cached permission maps.
const DefaultCacheTTL = 5 * time.Minute

type memoryEntry struct {
	pm        PermissionMap
	expiresAt time.Time
}

// MemoryCache is the in-process PermissionCache. Each process holds an
// independent copy; cross-process invalidation is a deployment concern.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache builds a MemoryCache with the given TTL. A zero or
// negative TTL falls back to DefaultCacheTTL.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &MemoryCache{
		entries: make(map[uuid.UUID]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached map if present and not expired.
func (c *MemoryCache) Get(_ context.Context, userID uuid.UUID) (PermissionMap, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.pm, true
}

// Set stores the map, resetting the entry's TTL.
func (c *MemoryCache) Set(_ context.Context, userID uuid.UUID, pm PermissionMap) {
	c.mu.Lock()
	c.entries[userID] = memoryEntry{pm: pm, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Invalidate drops one user's entry.
func (c *MemoryCache) Invalidate(_ context.Context, userID uuid.UUID) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *MemoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	c.entries = make(map[uuid.UUID]memoryEntry)
	c.mu.Unlock()
}
