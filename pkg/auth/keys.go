package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// HTTPClient abstracts the HTTP client used for fetching JWKS documents.
// This allows callers to provide custom HTTP clients with specific timeouts,
// transport settings, or middleware (e.g., for mTLS or proxy configuration).
//
// The standard [http.Client] satisfies this interface.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// maxJWKSBody is the maximum accepted size for a JWKS response body (1 MB).
const maxJWKSBody = 1 << 20

// Key-set fetches are idempotent GETs, so transient upstream failures get a
// small bounded number of retries with a short backoff.
const (
	jwksRetryCount   = 2
	jwksRetryBackoff = 200 * time.Millisecond
)

// keyResolver resolves the verification key for a token. A statically
// configured key always wins, whether given literally or as a PEM file path
// that is re-read after its cache TTL expires; otherwise keys are looked up
// by key ID in a cached JSON Web Key Set fetched from the configured URL.
//
// The JWKS cache is refreshed when it expires, and additionally refetched
// exactly once per lookup when the requested key ID is absent from the
// cached set. The bounded refetch is what makes key rotation work without
// a restart: a token signed with a freshly rotated key misses the cache,
// triggers one refetch, and finds the new key. A forged key ID costs at
// most one upstream round trip per lookup, never an unbounded storm.
//
// keyResolver is safe for concurrent use by multiple goroutines.
type keyResolver struct {
	staticKey  any
	staticFile string
	staticAlg  string
	jwksURL    string
	ttl        time.Duration
	client     HTTPClient

	// sleep is swapped out in tests to avoid real backoff waits.
	sleep func(time.Duration)

	mu           sync.RWMutex
	fileKey      any
	fileLoadedAt time.Time
	keys         map[string]any
	fetchedAt    time.Time
}

// newKeyResolver creates a resolver with an optional static key (literal or
// file path) and an optional JWKS URL. At least one source must be set; the
// validator enforces this at construction time.
func newKeyResolver(staticKey any, staticFile, staticAlg, jwksURL string, ttl time.Duration, client HTTPClient) *keyResolver {
	return &keyResolver{
		staticKey:  staticKey,
		staticFile: staticFile,
		staticAlg:  staticAlg,
		jwksURL:    jwksURL,
		ttl:        ttl,
		client:     client,
		sleep:      time.Sleep,
	}
}

// resolve returns the verification key for the given key ID. An empty kid is
// accepted when the key set contains exactly one key, which is common for
// issuers that never rotated.
func (r *keyResolver) resolve(ctx context.Context, kid string) (any, error) {
	if r.staticFile != "" {
		return r.resolveFromFile()
	}
	if r.staticKey != nil {
		return r.staticKey, nil
	}
	if r.jwksURL == "" {
		return nil, mserr.New(mserr.CodeInternalConfiguration, "auth: no verification key source configured")
	}

	r.mu.RLock()
	fresh := r.keys != nil && time.Since(r.fetchedAt) < r.ttl
	if fresh {
		if key, ok := r.lookupLocked(kid); ok {
			r.mu.RUnlock()
			return key, nil
		}
	}
	r.mu.RUnlock()

	// Cache miss, stale cache, or unknown kid in a fresh cache. Refetch
	// once; an unknown kid after that is a hard failure, not a retry loop.
	keys, err := r.fetchJWKS(ctx)
	if err != nil {
		return nil, mserr.Wrap(err, mserr.CodeKeyUnavailable, "auth: failed to fetch key set")
	}

	r.mu.Lock()
	r.keys = keys
	r.fetchedAt = time.Now()
	key, ok := r.lookupLocked(kid)
	r.mu.Unlock()

	if !ok {
		if kid == "" {
			return nil, mserr.New(mserr.CodeKeyUnavailable, "auth: token has no key ID and key set is not single-key")
		}
		return nil, mserr.Newf(mserr.CodeKeyUnavailable, "auth: key ID %q not found in key set", kid)
	}
	return key, nil
}

// resolveFromFile returns the key loaded from the configured PEM file,
// re-reading it after the cache TTL expires so an on-disk rotation takes
// effect without a restart. A failed re-read keeps serving the previously
// loaded key rather than rejecting every request over a transient file
// error.
func (r *keyResolver) resolveFromFile() (any, error) {
	r.mu.RLock()
	if r.fileKey != nil && time.Since(r.fileLoadedAt) < r.ttl {
		key := r.fileKey
		r.mu.RUnlock()
		return key, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fileKey != nil && time.Since(r.fileLoadedAt) < r.ttl {
		return r.fileKey, nil
	}

	raw, err := os.ReadFile(r.staticFile)
	if err != nil {
		if r.fileKey != nil {
			return r.fileKey, nil
		}
		return nil, mserr.Wrap(err, mserr.CodeInternalConfiguration, "auth: failed to read public key file")
	}
	key, err := parseStaticKey(Secret(raw), r.staticAlg)
	if err != nil || key == nil {
		if r.fileKey != nil {
			return r.fileKey, nil
		}
		if err == nil {
			err = mserr.New(mserr.CodeInternalConfiguration, "auth: public key file is empty")
		}
		return nil, err
	}

	r.fileKey = key
	r.fileLoadedAt = time.Now()
	return key, nil
}

// lookupLocked finds a key by kid in the cached set. When kid is empty and
// the set holds exactly one key, that key is returned. Caller must hold at
// least the read lock.
func (r *keyResolver) lookupLocked(kid string) (any, bool) {
	if kid == "" {
		if len(r.keys) == 1 {
			for _, key := range r.keys {
				return key, true
			}
		}
		return nil, false
	}
	key, ok := r.keys[kid]
	return key, ok
}

// jwksResponse represents the JSON structure of a JWKS endpoint response.
type jwksResponse struct {
	Keys []jwkKey `json:"keys"`
}

// jwkKey represents a single key in a JWKS response. Only the fields needed
// for RSA and EC key reconstruction are included.
type jwkKey struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	// RSA fields
	N string `json:"n"`
	E string `json:"e"`
	// EC fields
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// fetchJWKS retrieves and parses the key set, retrying transport errors and
// 5xx responses up to jwksRetryCount times with a backoff between attempts.
// Client errors and malformed responses fail immediately.
func (r *keyResolver) fetchJWKS(ctx context.Context) (map[string]any, error) {
	var lastErr error
	for attempt := 0; attempt <= jwksRetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			r.sleep(jwksRetryBackoff)
		}

		keys, retriable, err := r.fetchJWKSOnce(ctx)
		if err == nil {
			return keys, nil
		}
		lastErr = err
		if !retriable {
			return nil, err
		}
	}
	return nil, lastErr
}

// fetchJWKSOnce makes a single HTTP GET request to the JWKS URL, parses the
// response, and constructs a map of key ID to public key. Supports RSA and
// ECDSA (P-256, P-384, P-521) key types; malformed entries are skipped. The
// second return value reports whether the failure is worth retrying.
//
// The response body is limited to 1 MB to prevent resource exhaustion.
func (r *keyResolver) fetchJWKSOnce(ctx context.Context) (map[string]any, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.jwksURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("auth: failed to create JWKS request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("auth: JWKS request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, resp.StatusCode >= http.StatusInternalServerError, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxJWKSBody))
	if err != nil {
		return nil, true, fmt.Errorf("auth: failed to read JWKS response: %w", err)
	}

	var jwks jwksResponse
	if err := json.Unmarshal(body, &jwks); err != nil {
		return nil, false, fmt.Errorf("auth: failed to parse JWKS JSON: %w", err)
	}

	keys := make(map[string]any, len(jwks.Keys))
	for _, k := range jwks.Keys {
		if k.Kid == "" {
			continue
		}
		switch k.Kty {
		case "RSA":
			pubKey, err := parseRSAPublicKey(k.N, k.E)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		case "EC":
			pubKey, err := parseECPublicKey(k.Crv, k.X, k.Y)
			if err != nil {
				continue // Skip malformed keys.
			}
			keys[k.Kid] = pubKey
		}
	}
	return keys, false, nil
}

// parseRSAPublicKey constructs an *rsa.PublicKey from base64url-encoded
// modulus (n) and exponent (e) values.
func parseRSAPublicKey(nBase64, eBase64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(nBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode RSA exponent: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}

// parseECPublicKey constructs an *ecdsa.PublicKey from a curve name and
// base64url-encoded x and y coordinates.
func parseECPublicKey(crv, xBase64, yBase64 string) (*ecdsa.PublicKey, error) {
	var curve elliptic.Curve
	switch crv {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("auth: unsupported EC curve %q", crv)
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yBase64)
	if err != nil {
		return nil, fmt.Errorf("auth: failed to decode EC y coordinate: %w", err)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// parseStaticKey converts a statically configured key into the form the JWT
// library expects for the given algorithm family: raw bytes for HMAC, a
// parsed PEM public key for RSA and ECDSA.
func parseStaticKey(key Secret, alg string) (any, error) {
	raw := key.Value()
	if raw == "" {
		return nil, nil
	}

	switch {
	case strings.HasPrefix(alg, "HS"):
		return []byte(raw), nil
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		pubKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(raw))
		if err != nil {
			return nil, mserr.Wrap(err, mserr.CodeInternalConfiguration, "auth: failed to parse RSA public key")
		}
		return pubKey, nil
	case strings.HasPrefix(alg, "ES"):
		pubKey, err := jwt.ParseECPublicKeyFromPEM([]byte(raw))
		if err != nil {
			return nil, mserr.Wrap(err, mserr.CodeInternalConfiguration, "auth: failed to parse EC public key")
		}
		return pubKey, nil
	default:
		return nil, mserr.Newf(mserr.CodeInternalConfiguration, "auth: unsupported signing algorithm %q", alg)
	}
}
