package auth

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used for context keys in this package.
// Using a distinct type prevents collisions with keys from other packages.
type contextKey int

const (
	// principalKey stores the authenticated Principal in the context.
	principalKey contextKey = iota

	// correlationIDKey stores the request correlation ID in the context.
	correlationIDKey

	// tokenKey stores the raw bearer token of the current request.
	tokenKey
)

// ContextWithPrincipal returns a new context with the given Principal
// attached. The principal can later be retrieved with
// [PrincipalFromContext].
//
// This is typically called by HTTP middleware and gRPC interceptors after
// a bearer token has been validated and mapped.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext retrieves the Principal from the context. Returns
// the principal and true if present, or nil and false if no principal has
// been set. This function never returns a non-nil principal with false.
//
// Example:
//
//	p, ok := auth.PrincipalFromContext(ctx)
//	if !ok {
//	    return errors.Unauthorized("no principal in context")
//	}
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey).(*Principal)
	return p, ok && p != nil
}

// MustPrincipalFromContext retrieves the Principal from the context,
// panicking if none is present. Use only in code paths that run strictly
// after authentication middleware.
func MustPrincipalFromContext(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		panic("auth: no principal in context; ensure authentication middleware is configured")
	}
	return p
}

// ContextWithCorrelationID returns a new context carrying the given
// correlation ID. Outbound gateway calls pick it up and forward it so a
// request can be traced across services.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext retrieves the correlation ID from the context.
// Returns the ID and true if present, or an empty string and false.
func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(correlationIDKey).(string)
	return id, ok && id != ""
}

// ContextWithToken returns a new context carrying the raw bearer token of
// the current request. [PropagatingRoundTripper] and the gRPC client
// interceptors read it to forward the caller's identity downstream.
//
// The token is deliberately kept out of the Principal so principals can be
// logged and serialized without carrying a replayable credential.
func ContextWithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromContext retrieves the raw bearer token from the context. Returns
// the token and true if present, or an empty string and false.
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey).(string)
	return token, ok && token != ""
}

// TraceIDFromContext extracts the OpenTelemetry trace ID from the context.
// Returns the trace ID as a hex string and true if a valid trace is active,
// or an empty string and false. This allows correlating authentication
// events with distributed traces.
func TraceIDFromContext(ctx context.Context) (string, bool) {
	spanCtx := trace.SpanFromContext(ctx).SpanContext()
	if !spanCtx.HasTraceID() {
		return "", false
	}
	return spanCtx.TraceID().String(), true
}
