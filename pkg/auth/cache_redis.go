package auth

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// RedisCmdable is the narrow slice of Redis commands used by [RedisCache].
// It is satisfied by [*redis.Client], [*redis.ClusterClient], and
// [redis.UniversalClient], and by mock implementations in unit tests.
type RedisCmdable interface {
	// Get returns the string value of a key.
	Get(ctx context.Context, key string) *redis.StringCmd

	// Set sets the value of a key with an optional expiration.
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd

	// Del deletes one or more keys.
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache is a [Cache] backed by Redis. It lets the access and key caches
// be shared across service replicas so a key rotation or an access
// invalidation observed by one replica is visible to all of them.
//
// Transport failures surface as UNAVAIL_001 errors; callers decide whether a
// cache outage is fatal for the operation at hand.
type RedisCache struct {
	client RedisCmdable

	// prefix is prepended to every key, namespacing this cache inside a
	// shared Redis database.
	prefix string
}

// Compile-time assertion that RedisCache implements Cache.
var _ Cache = (*RedisCache)(nil)

// NewRedisCache creates a Cache backed by the given Redis client. The prefix
// is prepended to every key and may be empty.
func NewRedisCache(client RedisCmdable, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get returns the value stored under key, or false if the key is absent.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, mserr.Wrap(err, mserr.CodeUnavailable, "redis get failed")
	}
	return value, true, nil
}

// Set stores value under key for the given TTL. A non-positive TTL stores the
// value without expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return mserr.Wrap(err, mserr.CodeUnavailable, "redis set failed")
	}
	return nil
}

// Delete removes the entry under key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return mserr.Wrap(err, mserr.CodeUnavailable, "redis delete failed")
	}
	return nil
}
