package auth

import (
	"context"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KroderDev/go-microservice-core/internal/testutil"
	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// newJWKSValidator returns a validator wired to the given JWKS server.
func newJWKSValidator(t *testing.T, srv *testutil.JWKSServer) *TokenValidator {
	t.Helper()
	v, err := NewTokenValidator(ValidatorConfig{
		Algorithm:   "RS256",
		JWKSURL:     srv.URL,
		KeyCacheTTL: time.Hour,
	})
	require.NoError(t, err)
	return v
}

func TestKeyResolver_JWKSLookup(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	v := newJWKSValidator(t, srv)

	token := testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil))
	claims, err := v.Decode(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, 1, srv.Hits(), "first lookup should fetch the key set once")
}

func TestKeyResolver_CachesAcrossLookups(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	v := newJWKSValidator(t, srv)

	for i := 0; i < 5; i++ {
		token := testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil))
		_, err := v.Decode(context.Background(), token)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, srv.Hits(), "known kid should be served from cache")
}

func TestKeyResolver_RotationRefetchesOnce(t *testing.T) {
	t.Parallel()
	oldKey := testutil.GenerateRSAKey(t)
	newKey := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-old": &oldKey.PublicKey})
	v := newJWKSValidator(t, srv)

	// Warm the cache with the old key.
	_, err := v.Decode(context.Background(), testutil.SignRSA(t, oldKey, "kid-old", testutil.Claims("user-1", nil)))
	require.NoError(t, err)
	require.Equal(t, 1, srv.Hits())

	// Rotate the issuer's keys, then present a token signed with the new
	// key. The unknown kid must trigger exactly one refetch and succeed.
	srv.Rotate(map[string]*rsa.PublicKey{"kid-new": &newKey.PublicKey})
	claims, err := v.Decode(context.Background(), testutil.SignRSA(t, newKey, "kid-new", testutil.Claims("user-2", nil)))
	require.NoError(t, err)
	assert.Equal(t, "user-2", claims["sub"])
	assert.Equal(t, 2, srv.Hits(), "rotation should cost exactly one refetch")
}

func TestKeyResolver_UnknownKidFailsAfterOneRefetch(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	other := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	v := newJWKSValidator(t, srv)

	// Warm the cache.
	_, err := v.Decode(context.Background(), testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil)))
	require.NoError(t, err)
	require.Equal(t, 1, srv.Hits())

	// A forged kid refetches once per lookup and then fails hard.
	forged := testutil.SignRSA(t, other, "kid-forged", testutil.Claims("attacker", nil))
	_, err = v.Decode(context.Background(), forged)
	require.Error(t, err)
	assert.True(t, mserr.IsKeyUnavailable(err))
	assert.Equal(t, 2, srv.Hits(), "unknown kid should cost exactly one refetch")

	// A second attempt with the same forged kid costs one more fetch, not
	// an unbounded storm.
	_, err = v.Decode(context.Background(), forged)
	require.Error(t, err)
	assert.Equal(t, 3, srv.Hits())

	// The known key still verifies from cache afterwards.
	_, err = v.Decode(context.Background(), testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil)))
	require.NoError(t, err)
	assert.Equal(t, 3, srv.Hits(), "forged lookups must not evict good keys")
}

func TestKeyResolver_SingleKeyFallbackWithoutKid(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	v := newJWKSValidator(t, srv)

	// Token signed without a kid header; the single-key set is used.
	token := testutil.SignRSA(t, key, "", testutil.Claims("user-1", nil))
	claims, err := v.Decode(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
}

func TestKeyResolver_NoKidMultiKeyFails(t *testing.T) {
	t.Parallel()
	key1 := testutil.GenerateRSAKey(t)
	key2 := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{
		"kid-1": &key1.PublicKey,
		"kid-2": &key2.PublicKey,
	})
	v := newJWKSValidator(t, srv)

	token := testutil.SignRSA(t, key1, "", testutil.Claims("user-1", nil))
	_, err := v.Decode(context.Background(), token)
	require.Error(t, err)
	assert.True(t, mserr.IsKeyUnavailable(err), "ambiguous kid-less token must not guess a key")
}

func TestKeyResolver_FetchRetriesServerErrors(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	srv.FailNext(1)
	v := newJWKSValidator(t, srv)
	v.resolver.sleep = func(time.Duration) {}

	// A transient 503 on the key-set fetch is absorbed by the retry.
	token := testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil))
	claims, err := v.Decode(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims["sub"])
	assert.Equal(t, 2, srv.Hits(), "one failed attempt plus the successful retry")
}

func TestKeyResolver_FetchFailure(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})
	srv.SetFailing(true)
	v := newJWKSValidator(t, srv)
	v.resolver.sleep = func(time.Duration) {}

	token := testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil))
	_, err := v.Decode(context.Background(), token)
	require.Error(t, err)
	assert.True(t, mserr.IsKeyUnavailable(err))
	assert.Equal(t, 3, srv.Hits(), "retries are bounded, not an unbounded storm")
}

func TestKeyResolver_StaticKeyBeatsJWKS(t *testing.T) {
	t.Parallel()
	key := testutil.GenerateRSAKey(t)
	srv := testutil.NewJWKSServer(t, map[string]*rsa.PublicKey{"kid-1": &key.PublicKey})

	v, err := NewTokenValidator(ValidatorConfig{
		PublicKey:   Secret(testutil.PublicKeyPEM(t, &key.PublicKey)),
		Algorithm:   "RS256",
		JWKSURL:     srv.URL,
		KeyCacheTTL: time.Hour,
	})
	require.NoError(t, err)

	token := testutil.SignRSA(t, key, "kid-1", testutil.Claims("user-1", nil))
	_, err = v.Decode(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 0, srv.Hits(), "static key configured: JWKS endpoint must never be contacted")
}
