package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

func TestMemoryCache_SetGet(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)
}

func TestMemoryCache_Miss(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()

	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	now = now.Add(30 * time.Second)
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "entry should survive within its TTL")

	now = now.Add(time.Minute)
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after its TTL")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_NoTTL(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	now = now.Add(24 * time.Hour)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok, "zero TTL means no expiry")
}

func TestMemoryCache_Delete(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Delete(ctx, "k"), "deleting an absent key is not an error")
}

func TestMemoryCache_ValueIsCopied(t *testing.T) {
	t.Parallel()
	c := NewMemoryCache()
	ctx := context.Background()

	original := []byte("value")
	require.NoError(t, c.Set(ctx, "k", original, time.Minute))
	original[0] = 'X'

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), value, "mutating the caller's slice must not change the cached value")
}

// fakeRedis implements RedisCmdable over a plain map, returning the cmd
// types the go-redis client would.
type fakeRedis struct {
	data    map[string]string
	getErr  error
	lastTTL time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: make(map[string]string)}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	value, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.lastTTL = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.data[key]; ok {
			delete(f.data, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	t.Parallel()
	backend := newFakeRedis()
	c := NewRedisCache(backend, "auth:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, time.Minute, backend.lastTTL)
	assert.Contains(t, backend.data, "auth:k", "keys should carry the prefix")

	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), value)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisCache_MissIsNotError(t *testing.T) {
	t.Parallel()
	c := NewRedisCache(newFakeRedis(), "")

	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err, "redis.Nil is a miss, not an error")
	assert.False(t, ok)
}

func TestRedisCache_TransportError(t *testing.T) {
	t.Parallel()
	backend := newFakeRedis()
	backend.getErr = errors.New("connection refused")
	c := NewRedisCache(backend, "")

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.True(t, mserr.IsUnavailable(err))
}
