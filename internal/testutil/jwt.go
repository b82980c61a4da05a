// Package testutil provides JWT and JWKS helpers shared by the auth and
// gateway test suites.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// GenerateRSAKey creates a 2048-bit RSA key pair for signing test tokens.
func GenerateRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return key
}

// PublicKeyPEM renders the public half of an RSA key as PKIX PEM, the
// format accepted for statically configured verification keys.
func PublicKeyPEM(t *testing.T, pub *rsa.PublicKey) string {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

// SignRSA creates an RS256-signed token with the given kid header and
// claims. An empty kid omits the header.
func SignRSA(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if kid != "" {
		token.Header["kid"] = kid
	}
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// SignHMAC creates an HS256-signed token with the given claims.
func SignHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

// Claims returns a minimal valid claim set for the given subject, expiring
// one hour from now. Callers layer extra claims on top.
func Claims(sub string, extra map[string]any) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	return claims
}

// JWKSServer serves a JSON Web Key Set over HTTP and counts how many times
// it was fetched, so tests can assert on refetch behavior.
type JWKSServer struct {
	*httptest.Server

	keys     atomic.Value // map[string]*rsa.PublicKey
	hits     atomic.Int64
	fail     atomic.Bool
	failNext atomic.Int64
}

// NewJWKSServer starts a JWKS endpoint serving the given keys by kid. The
// server is shut down automatically when the test finishes.
func NewJWKSServer(t *testing.T, keys map[string]*rsa.PublicKey) *JWKSServer {
	t.Helper()

	s := &JWKSServer{}
	s.keys.Store(keys)
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		if s.fail.Load() || s.failNext.Add(-1) >= 0 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(jwksDocument(s.keys.Load().(map[string]*rsa.PublicKey)))
	}))
	t.Cleanup(s.Close)
	return s
}

// Rotate replaces the served key set, simulating an issuer key rotation.
func (s *JWKSServer) Rotate(keys map[string]*rsa.PublicKey) {
	s.keys.Store(keys)
}

// SetFailing makes the endpoint return 503 until cleared.
func (s *JWKSServer) SetFailing(failing bool) {
	s.fail.Store(failing)
}

// FailNext makes the next n requests return 503 before service resumes.
func (s *JWKSServer) FailNext(n int) {
	s.failNext.Store(int64(n))
}

// Hits returns how many times the endpoint has been fetched.
func (s *JWKSServer) Hits() int {
	return int(s.hits.Load())
}

// jwksDocument renders the keys as a standard JWKS JSON document.
func jwksDocument(keys map[string]*rsa.PublicKey) map[string]any {
	entries := make([]map[string]any, 0, len(keys))
	for kid, pub := range keys {
		entries = append(entries, map[string]any{
			"kty": "RSA",
			"kid": kid,
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return map[string]any{"keys": entries}
}
