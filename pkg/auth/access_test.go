package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// fakeAccessFetcher scripts the authorization service for cache tests.
type fakeAccessFetcher struct {
	grant *AccessGrant
	err   error
	calls int
}

func (f *fakeAccessFetcher) FetchAccess(_ context.Context, userID string) (*AccessGrant, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.grant != nil {
		return f.grant, nil
	}
	return &AccessGrant{UserID: userID, Roles: []string{"viewer"}, Permissions: []string{"read"}}, nil
}

func TestAccessCache_GetAccessFor_FetchesAndCaches(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{}
	cache := NewAccessCache(AccessCacheConfig{TTL: time.Minute}, fetcher, nil)

	grant, err := cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, []string{"viewer"}, grant.Roles)

	// Second lookup within the TTL hits the cache.
	_, err = cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, fetcher.calls)

	// A different user does not share the entry.
	_, err = cache.GetAccessFor(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls)
}

func TestAccessCache_GetAccessFor_Expiry(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{}
	backend := NewMemoryCache()
	now := time.Now()
	backend.now = func() time.Time { return now }
	cache := NewAccessCache(AccessCacheConfig{TTL: time.Minute}, fetcher, backend)

	_, err := cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls, "expired entry should refetch")
}

func TestAccessCache_GetAccessFor_EmptyUserID(t *testing.T) {
	t.Parallel()
	cache := NewAccessCache(AccessCacheConfig{}, &fakeAccessFetcher{}, nil)

	_, err := cache.GetAccessFor(context.Background(), "")
	require.Error(t, err)
	assert.True(t, mserr.IsValidation(err))
}

func TestAccessCache_GetAccessFor_FetchFailure(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{err: mserr.New(mserr.CodeUnavailable, "service down")}
	cache := NewAccessCache(AccessCacheConfig{}, fetcher, nil)

	_, err := cache.GetAccessFor(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeUnavailableDependency))
}

func TestAccessCache_LoadAccess_ReplacesEmbedded(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{grant: &AccessGrant{
		UserID:      "user-1",
		Roles:       []string{"admin"},
		Permissions: []string{"orders:write"},
	}}
	cache := NewAccessCache(AccessCacheConfig{}, fetcher, nil)

	p, err := NewPrincipal("user-1", nil, []string{"token-role"}, []string{"token-perm"})
	require.NoError(t, err)

	require.NoError(t, cache.LoadAccess(context.Background(), p))
	assert.Equal(t, []string{"admin"}, p.Roles())
	assert.Equal(t, []string{"orders:write"}, p.Permissions())
}

func TestAccessCache_LoadAccess_TolerantByDefault(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{err: mserr.New(mserr.CodeUnavailable, "service down")}
	cache := NewAccessCache(AccessCacheConfig{}, fetcher, nil)

	p, err := NewPrincipal("user-1", nil, []string{"token-role"}, []string{"token-perm"})
	require.NoError(t, err)

	require.NoError(t, cache.LoadAccess(context.Background(), p), "fetch failure is tolerated by default")
	assert.Equal(t, []string{"token-role"}, p.Roles(), "embedded access survives a tolerated failure")
	assert.Equal(t, []string{"token-perm"}, p.Permissions())
}

func TestAccessCache_LoadAccess_Strict(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{err: mserr.New(mserr.CodeUnavailable, "service down")}
	cache := NewAccessCache(AccessCacheConfig{Strict: true}, fetcher, nil)

	p, err := NewPrincipal("user-1", nil, nil, nil)
	require.NoError(t, err)

	err = cache.LoadAccess(context.Background(), p)
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeUnavailableDependency))
}

func TestAccessCache_LoadAccess_PreferEmbeddedClaims(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{}
	cache := NewAccessCache(AccessCacheConfig{PreferEmbeddedClaims: true}, fetcher, nil)

	withAccess, err := NewPrincipal("user-1", nil, []string{"embedded"}, nil)
	require.NoError(t, err)
	require.NoError(t, cache.LoadAccess(context.Background(), withAccess))
	assert.Equal(t, 0, fetcher.calls, "embedded access should skip the fetch")

	// A token with no embedded access still fetches.
	withoutAccess, err := NewPrincipal("user-2", nil, nil, nil)
	require.NoError(t, err)
	require.NoError(t, cache.LoadAccess(context.Background(), withoutAccess))
	assert.Equal(t, 1, fetcher.calls)
	assert.Equal(t, []string{"viewer"}, withoutAccess.Roles())
}

func TestAccessCache_Invalidate(t *testing.T) {
	t.Parallel()
	fetcher := &fakeAccessFetcher{}
	cache := NewAccessCache(AccessCacheConfig{TTL: time.Minute}, fetcher, nil)

	_, err := cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)
	require.NoError(t, cache.Invalidate(context.Background(), "user-1"))

	_, err = cache.GetAccessFor(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.calls, "invalidation should force a refetch")
}
