// Package gateway provides an HTTP client for the platform API gateway: it
// logs sessions in, refreshes tokens, fetches the current user's profile,
// and retrieves per-user access grants.
//
// The client implements [auth.IdentityClient] and [auth.AccessFetcher], so
// it plugs directly into a [auth.SessionGuard] and [auth.AccessCache].
package gateway

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/KroderDev/go-microservice-core/pkg/auth"
	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for gateway
// spans.
const tracerName = "github.com/KroderDev/go-microservice-core/pkg/gateway"

// meKeyPrefix namespaces cached profile responses by token hash.
const meKeyPrefix = "gateway_me:"

// maxResponseBody limits gateway response bodies to 1 MB.
const maxResponseBody = 1 << 20

// Client is the API gateway client. It wraps an [auth.HTTPClient]
// (typically [*http.Client]) with request construction, bounded retries for
// idempotent calls, response classification into coded errors, and
// OpenTelemetry tracing.
//
// Client is safe for concurrent use by multiple goroutines.
type Client struct {
	config Config
	http   auth.HTTPClient
	cache  auth.Cache
	tracer trace.Tracer
	logger *slog.Logger

	// sleep is the retry pause; replaced in tests.
	sleep func(time.Duration)
}

// Compile-time assertions that Client satisfies the auth integration
// points.
var (
	_ auth.IdentityClient = (*Client)(nil)
	_ auth.AccessFetcher  = (*Client)(nil)
)

// NewClient creates a gateway client. The HTTP client and cache are
// optional: a nil httpClient gets a default [http.Client] bounded by the
// configured timeout, and a nil cache gets a fresh [auth.MemoryCache] for
// profile responses.
func NewClient(cfg Config, httpClient auth.HTTPClient, cache auth.Cache) (*Client, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cache == nil {
		cache = auth.NewMemoryCache()
	}

	return &Client{
		config: cfg,
		http:   httpClient,
		cache:  cache,
		tracer: otel.Tracer(tracerName),
		logger: slog.Default(),
		sleep:  time.Sleep,
	}, nil
}

// Login exchanges credentials for a token pair. Login is a write from the
// gateway's point of view and is never retried; a duplicate login attempt
// could trip velocity controls or lockout counters upstream.
func (c *Client) Login(ctx context.Context, credentials map[string]any) (*auth.LoginResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Login")
	defer span.End()

	body, err := json.Marshal(credentials)
	if err != nil {
		return nil, c.spanErr(span, mserr.Wrap(err, mserr.CodeValidation, "gateway: failed to encode credentials"))
	}

	var result auth.LoginResult
	if err := c.doJSON(ctx, http.MethodPost, c.config.LoginPath, "", body, false, &result); err != nil {
		return nil, c.spanErr(span, err)
	}
	if result.AccessToken == "" {
		return nil, c.spanErr(span, mserr.New(mserr.CodeAuthentication, "gateway: login response carried no access token"))
	}
	return &result, nil
}

// Refresh exchanges a previously issued token for a fresh one. Like Login,
// it is never retried: the gateway may rotate the refresh token on first
// use, and a replayed request would then be rejected.
func (c *Client) Refresh(ctx context.Context, token string) (*auth.LoginResult, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Refresh")
	defer span.End()

	if token == "" {
		return nil, c.spanErr(span, mserr.New(mserr.CodeValidation, "gateway: refresh token must not be empty"))
	}

	var result auth.LoginResult
	if err := c.doJSON(ctx, http.MethodPost, c.config.RefreshPath, token, nil, false, &result); err != nil {
		if msErr, ok := mserr.AsError(err); ok && msErr.Code.Category() == "AUTH" {
			return nil, c.spanErr(span, mserr.Wrap(err, mserr.CodeRefreshFailed, "gateway: token refresh rejected"))
		}
		return nil, c.spanErr(span, err)
	}
	if result.AccessToken == "" {
		return nil, c.spanErr(span, mserr.New(mserr.CodeRefreshFailed, "gateway: refresh response carried no access token"))
	}
	return &result, nil
}

// Me returns the profile of the user the token belongs to. Responses are
// cached by token hash; the cache TTL is capped by the token's remaining
// lifetime so a cached profile can never outlive its token.
func (c *Client) Me(ctx context.Context, token string) (map[string]any, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.Me")
	defer span.End()

	if token == "" {
		return nil, c.spanErr(span, mserr.New(mserr.CodeValidation, "gateway: token must not be empty"))
	}

	key := meKeyPrefix + hashToken(token)
	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var profile map[string]any
		if err := json.Unmarshal(data, &profile); err == nil {
			span.SetAttributes(attribute.Bool("gateway.cache_hit", true))
			return profile, nil
		}
		_ = c.cache.Delete(ctx, key)
	}
	span.SetAttributes(attribute.Bool("gateway.cache_hit", false))

	// The me endpoint is a POST on the gateway side and is never retried;
	// the token-hash cache absorbs repeat lookups instead.
	var profile map[string]any
	if err := c.doJSON(ctx, http.MethodPost, c.config.MePath, token, nil, false, &profile); err != nil {
		return nil, c.spanErr(span, err)
	}

	ttl := c.meTTL(token)
	if ttl > 0 {
		if data, err := json.Marshal(profile); err == nil {
			if err := c.cache.Set(ctx, key, data, ttl); err != nil {
				c.logger.WarnContext(ctx, "profile cache write failed", slog.String("error", err.Error()))
			}
		}
	}
	return profile, nil
}

// FetchAccess retrieves the effective roles and permissions of a user. The
// bearer token is taken from the context when one was propagated there by
// the auth middleware.
func (c *Client) FetchAccess(ctx context.Context, userID string) (*auth.AccessGrant, error) {
	ctx, span := c.tracer.Start(ctx, "gateway.FetchAccess")
	defer span.End()

	if userID == "" {
		return nil, c.spanErr(span, mserr.New(mserr.CodeValidation, "gateway: user ID must not be empty"))
	}

	token, _ := auth.TokenFromContext(ctx)
	path := strings.ReplaceAll(c.config.AccessPath, "{id}", url.PathEscape(userID))

	var grant auth.AccessGrant
	if err := c.doJSON(ctx, http.MethodGet, path, token, nil, true, &grant); err != nil {
		return nil, c.spanErr(span, err)
	}
	if grant.UserID == "" {
		grant.UserID = userID
	}
	span.SetAttributes(attribute.String("gateway.user_id", userID))
	return &grant, nil
}

// InvalidateMe drops the cached profile for the given token.
func (c *Client) InvalidateMe(ctx context.Context, token string) error {
	return c.cache.Delete(ctx, meKeyPrefix+hashToken(token))
}

// doJSON performs one gateway request and decodes the JSON response into
// out. GET requests (retriable=true) are retried on transport failures and
// 5xx responses up to the configured count; writes get exactly one attempt.
func (c *Client) doJSON(ctx context.Context, method, path, token string, body []byte, retriable bool, out any) error {
	attempts := 1
	if retriable {
		attempts += c.config.RetryCount
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return mserr.Wrap(ctx.Err(), mserr.CodeTimeoutDependency, "gateway: request canceled")
			default:
			}
			c.sleep(c.config.RetryBackoff)
		}

		retry, err := c.attempt(ctx, method, path, token, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retriable || !retry {
			return err
		}
	}
	return lastErr
}

// attempt performs a single request. The bool reports whether the failure
// is worth retrying (transport errors and 5xx responses).
func (c *Client) attempt(ctx context.Context, method, path, token string, body []byte, out any) (bool, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return false, mserr.Wrap(err, mserr.CodeInternal, "gateway: failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(auth.HeaderAuthorization, auth.BearerPrefix+token)
	}
	if correlationID, ok := auth.CorrelationIDFromContext(ctx); ok {
		req.Header.Set(auth.HeaderCorrelationID, correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return true, mserr.Wrap(err, mserr.CodeUnavailableDependency, "gateway: request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return true, mserr.Wrap(err, mserr.CodeUnavailableDependency, "gateway: failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode >= 500, classifyStatus(resp.StatusCode, method, path)
	}

	if out == nil || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, mserr.Wrap(err, mserr.CodeInternal, "gateway: failed to decode response")
	}
	return false, nil
}

// classifyStatus maps a non-2xx gateway status to a coded error.
func classifyStatus(status int, method, path string) *mserr.Error {
	msg := fmt.Sprintf("gateway: %s %s returned status %d", method, path, status)
	switch {
	case status == http.StatusUnauthorized:
		return mserr.New(mserr.CodeAuthentication, msg)
	case status == http.StatusForbidden:
		return mserr.New(mserr.CodeAuthorizationDenied, msg)
	case status == http.StatusNotFound:
		return mserr.New(mserr.CodeNotFound, msg)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return mserr.New(mserr.CodeTimeoutDependency, msg)
	case status >= 500:
		return mserr.New(mserr.CodeUnavailableDependency, msg)
	case status >= 400:
		return mserr.New(mserr.CodeValidation, msg)
	default:
		return mserr.New(mserr.CodeInternal, msg)
	}
}

// meTTL computes the profile cache TTL for a token: the configured cap,
// reduced to the token's remaining lifetime when that is shorter. The exp
// claim is read without signature verification; the token was already
// accepted by the gateway, and a wrong exp only shortens or skips caching.
func (c *Client) meTTL(token string) time.Duration {
	ttl := c.config.MeCacheTTL

	parser := jwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return ttl
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return ttl
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return ttl
	}

	remaining := time.Until(exp.Time)
	if remaining <= 0 {
		return 0
	}
	if remaining < ttl {
		return remaining
	}
	return ttl
}

// hashToken returns the hex SHA-256 of a token, used as the cache key so
// raw tokens never sit in the cache backend.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// spanErr records err on the span and returns it, keeping call sites to
// one line.
func (c *Client) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
