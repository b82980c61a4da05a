// Package errors provides standardized error types for services built on the
// gateway auth core. It defines machine-readable error codes, a structured
// Error type with HTTP status mapping, and helpers for creating, wrapping,
// and inspecting errors.
//
// # Error Categories
//
// Codes are grouped into categories that map to common failure scenarios:
//
//   - Validation errors: invalid input, missing configuration values
//   - Authentication errors: malformed, expired, or badly signed tokens,
//     unavailable verification keys, failed token refresh
//   - Authorization errors: missing roles or permissions
//   - NotFound errors: resource does not exist
//   - Internal errors: unexpected failures, misconfiguration
//   - Unavailable errors: the identity provider or gateway is unreachable
//   - Timeout errors: a remote call exceeded its deadline
//
// # Error Codes
//
// Each error carries a stable code (e.g. "AUTH_002") suitable for alerting
// and client-side handling. Codes follow the pattern CATEGORY_XXX.
//
// # Usage
//
// Create a new error:
//
//	err := errors.New(errors.CodeAuthenticationExpired, "token has expired")
//
// Wrap an underlying cause:
//
//	err := errors.Wrap(err, errors.CodeKeyUnavailable, "JWKS fetch failed")
//
// Check a category:
//
//	if errors.IsAuthentication(err) {
//	    w.WriteHeader(http.StatusUnauthorized)
//	}
package errors
