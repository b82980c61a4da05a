package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KroderDev/go-microservice-core/internal/testutil"
	"github.com/KroderDev/go-microservice-core/pkg/auth"
	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// newTestClient returns a client pointed at srv with retry pauses stubbed
// out.
func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: srv.URL, RetryCount: 2}, nil, nil)
	require.NoError(t, err)
	c.sleep = func(time.Duration) {}
	return c
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{}, nil, nil)
	require.Error(t, err)
	assert.True(t, mserr.IsConfiguration(err))
}

func TestNewClient_RejectsBadScheme(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{BaseURL: "ftp://gateway"}, nil, nil)
	require.Error(t, err)
	assert.True(t, mserr.IsConfiguration(err))
}

func TestClient_Login(t *testing.T) {
	t.Parallel()
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/login", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "T",
			"refresh_token": "R",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	result, err := c.Login(context.Background(), map[string]any{"email": "u@example.com", "password": "pw"})
	require.NoError(t, err)

	assert.Equal(t, "T", result.AccessToken)
	assert.Equal(t, "R", result.RefreshToken)
	assert.Equal(t, int64(3600), result.ExpiresIn)
	assert.Equal(t, "u@example.com", gotBody["email"])
}

func TestClient_Login_RejectedCredentials(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.Login(context.Background(), map[string]any{"email": "u@example.com"})
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeAuthentication))
}

func TestClient_Login_NeverRetried(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.Login(context.Background(), map[string]any{"email": "u@example.com"})
	require.Error(t, err)
	assert.Equal(t, int64(1), attempts.Load(), "login is a write and must not be retried")
}

func TestClient_Refresh(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/refresh", r.URL.Path)
		require.Equal(t, "Bearer stale", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "fresh"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	result, err := c.Refresh(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "fresh", result.AccessToken)
}

func TestClient_Refresh_Rejected(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.Refresh(context.Background(), "stale")
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeRefreshFailed))
}

func TestClient_Refresh_EmptyToken(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("empty token must not reach the gateway")
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.True(t, mserr.IsValidation(err))
}

func TestClient_Me_CachesByToken(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/auth/me", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1", "email": "u@example.com"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	token := testutil.SignHMAC(t, "another-32-byte-test-signing-key", testutil.Claims("user-1", nil))

	profile, err := c.Me(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", profile["id"])

	_, err = c.Me(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), hits.Load(), "second call should be served from cache")

	// A different token is a different cache entry.
	other := testutil.SignHMAC(t, "another-32-byte-test-signing-key", testutil.Claims("user-2", nil))
	_, err = c.Me(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load())
}

func TestClient_Me_ExpiredTokenNotCached(t *testing.T) {
	t.Parallel()
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "user-1"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	expired := testutil.SignHMAC(t, "another-32-byte-test-signing-key", map[string]any{
		"sub": "user-1",
		"exp": time.Now().Add(-time.Hour).Unix(),
	})

	_, err := c.Me(context.Background(), expired)
	require.NoError(t, err)
	_, err = c.Me(context.Background(), expired)
	require.NoError(t, err)
	assert.Equal(t, int64(2), hits.Load(), "a profile for an expired token must not be cached")
}

func TestClient_FetchAccess(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/user-1/access", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "corr-1", r.Header.Get("X-Correlation-ID"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user_id":     "user-1",
			"roles":       []string{"admin"},
			"permissions": []string{"orders:write"},
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	ctx := auth.ContextWithToken(context.Background(), "tok-1")
	ctx = auth.ContextWithCorrelationID(ctx, "corr-1")

	grant, err := c.FetchAccess(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", grant.UserID)
	assert.Equal(t, []string{"admin"}, grant.Roles)
	assert.Equal(t, []string{"orders:write"}, grant.Permissions)
}

func TestClient_FetchAccess_RetriesOn5xx(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "user-1", "roles": []string{"viewer"}})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	grant, err := c.FetchAccess(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"viewer"}, grant.Roles)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestClient_FetchAccess_RetriesAreBounded(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.FetchAccess(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeUnavailableDependency))
	assert.Equal(t, int64(3), attempts.Load(), "one attempt plus two retries")
}

func TestClient_FetchAccess_NoRetryOn4xx(t *testing.T) {
	t.Parallel()
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.FetchAccess(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, mserr.HasCode(err, mserr.CodeAuthorizationDenied))
	assert.Equal(t, int64(1), attempts.Load())
}

func TestClient_FetchAccess_EscapesUserID(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/users/user%2F..%2Fadmin/access", r.URL.EscapedPath())
		_ = json.NewEncoder(w).Encode(map[string]any{"user_id": "x"})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	_, err := c.FetchAccess(context.Background(), "user/../admin")
	require.NoError(t, err)
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]mserr.Code{
		http.StatusUnauthorized:        mserr.CodeAuthentication,
		http.StatusForbidden:           mserr.CodeAuthorizationDenied,
		http.StatusNotFound:            mserr.CodeNotFound,
		http.StatusGatewayTimeout:      mserr.CodeTimeoutDependency,
		http.StatusInternalServerError: mserr.CodeUnavailableDependency,
		http.StatusBadRequest:          mserr.CodeValidation,
	}
	for status, want := range cases {
		err := classifyStatus(status, http.MethodGet, "/x")
		assert.Equal(t, want, err.Code, "status %d", status)
	}
}

func TestClient_ImplementsAuthInterfaces(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv)
	var _ auth.IdentityClient = c
	var _ auth.AccessFetcher = c
}
