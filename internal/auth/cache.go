package auth

import (
	"context"
	"sync"
	"time"
)

const DefaultSnapshotTTL = time.Hour

// IdentityCache holds password-free account snapshots keyed by identity.
// It is a read accelerator only: callers treat every error as a miss.
type IdentityCache interface {
	// Put stores snapshot under identity, resetting its expiry. A
	// non-positive ttl selects DefaultSnapshotTTL.
	Put(ctx context.Context, identity string, snapshot Snapshot, ttl time.Duration) error
	// Get reports false on a miss or after expiry.
	Get(ctx context.Context, identity string) (Snapshot, bool, error)
	Invalidate(ctx context.Context, identity string) error
	Ping(ctx context.Context) error
}

type cacheItem struct {
	snapshot  Snapshot
	expiresAt time.Time
}

// MemoryCache is an in-process IdentityCache used when no Redis is configured.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	now   func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		items: make(map[string]cacheItem),
		now:   time.Now,
	}
}

func (c *MemoryCache) Put(_ context.Context, identity string, snapshot Snapshot, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[identity] = cacheItem{snapshot: snapshot, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Get(_ context.Context, identity string) (Snapshot, bool, error) {
	c.mu.RLock()
	item, ok := c.items[identity]
	c.mu.RUnlock()

	if !ok {
		return Snapshot{}, false, nil
	}
	if !c.now().Before(item.expiresAt) {
		c.mu.Lock()
		if current, still := c.items[identity]; still && current.expiresAt.Equal(item.expiresAt) {
			delete(c.items, identity)
		}
		c.mu.Unlock()
		return Snapshot{}, false, nil
	}

	return item.snapshot, true, nil
}

func (c *MemoryCache) Invalidate(_ context.Context, identity string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, identity)
	return nil
}

func (c *MemoryCache) Ping(context.Context) error {
	return nil
}
