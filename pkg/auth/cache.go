package auth

import (
	"context"
	"sync"
	"time"
)

// Cache is the TTL cache abstraction backing the process-wide caches in
// this package: the verification key set, per-principal access grants, and
// gateway "me" responses. Modeling the caches as an injectable interface
// (rather than package-level state) lets tests use fresh instances and lets
// deployments share a Redis instance across replicas.
//
// Get reports absence via its second return value: a missing entry means
// "not yet fetched", which callers must not conflate with an empty value.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the value stored under key. The bool is false when the
	// key is absent or its entry has expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for the given TTL. A non-positive TTL
	// stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}

// memoryCacheEntry stores a cached value and its expiration time. A zero
// expiresAt means the entry never expires.
type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is an in-process [Cache] backed by a mutex-protected map.
// Expired entries are dropped lazily on read and swept opportunistically on
// write; there is no background goroutine.
//
// MemoryCache is safe for concurrent use by multiple goroutines.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry

	// now is the clock used for expiry checks; replaced in tests.
	now func() time.Time
}

// Compile-time assertion that MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryCacheEntry),
		now:     time.Now,
	}
}

// Get returns the value stored under key, or false if the key is absent or
// expired.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have
		// replaced the entry since the read.
		if current, still := c.entries[key]; still && !current.expiresAt.IsZero() && c.now().After(current.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key for the given TTL. A non-positive TTL stores
// the value without expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	c.mu.Lock()
	c.sweepLocked()
	c.entries[key] = memoryCacheEntry{value: stored, expiresAt: expiresAt}
	c.mu.Unlock()
	return nil
}

// Delete removes the entry under key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len returns the number of live (unexpired) entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	now := c.now()
	for _, e := range c.entries {
		if e.expiresAt.IsZero() || now.Before(e.expiresAt) {
			n++
		}
	}
	return n
}

// sweepLocked removes expired entries. Caller must hold the write lock.
func (c *MemoryCache) sweepLocked() {
	now := c.now()
	for k, e := range c.entries {
		if !e.expiresAt.IsZero() && now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}
