package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryIdentityCache is a volatile IdentityCache with per-entry TTL. The
// durable companion lives in the tokenstore package next to the token rows.
type MemoryIdentityCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]cachedIdentity
}

type cachedIdentity struct {
	identity  SecondaryIdentity
	expiresAt time.Time
}

// MemoryIdentityCacheOption customizes a MemoryIdentityCache.
type MemoryIdentityCacheOption func(*MemoryIdentityCache)

// WithCacheClock injects a custom clock (useful for tests).
func WithCacheClock(clock func() time.Time) MemoryIdentityCacheOption {
	return func(c *MemoryIdentityCache) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewMemoryIdentityCache creates a cache whose entries expire after ttl.
func NewMemoryIdentityCache(ttl time.Duration, opts ...MemoryIdentityCacheOption) *MemoryIdentityCache {
	c := &MemoryIdentityCache{
		ttl:     ttl,
		now:     time.Now,
		entries: map[string]cachedIdentity{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

var _ IdentityCache = (*MemoryIdentityCache)(nil)

// Get returns the cached identity or nil when absent or expired. Expired
// entries are dropped in place.
func (c *MemoryIdentityCache) Get(ctx context.Context, key string) (*SecondaryIdentity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	if !entry.expiresAt.After(c.now()) {
		delete(c.entries, key)
		return nil, nil
	}
	identity := entry.identity
	return &identity, nil
}

// Put stores identity under key for the configured TTL.
func (c *MemoryIdentityCache) Put(ctx context.Context, key string, identity SecondaryIdentity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cachedIdentity{
		identity:  identity,
		expiresAt: c.now().Add(c.ttl),
	}
	return nil
}

// Remove drops the entry for key.
func (c *MemoryIdentityCache) Remove(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}
