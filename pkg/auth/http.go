package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// Header names used by the HTTP middleware and outbound propagation.
const (
	// HeaderAuthorization is the standard bearer token header.
	HeaderAuthorization = "Authorization"

	// HeaderCorrelationID carries the request correlation ID across
	// service boundaries.
	HeaderCorrelationID = "X-Correlation-ID"

	// BearerPrefix is the default authorization scheme prefix.
	BearerPrefix = "Bearer "
)

// ExtractBearerToken returns the token portion of an Authorization header
// value, or empty when the value does not use the given scheme prefix. The
// scheme comparison is case-insensitive.
func ExtractBearerToken(header, prefix string) string {
	if prefix == "" {
		prefix = BearerPrefix
	}
	if len(header) <= len(prefix) {
		return ""
	}
	if !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

// MiddlewareConfig configures [Middleware].
type MiddlewareConfig struct {
	// Header is the request header carrying the token. Defaults to
	// "Authorization".
	Header string `json:"header" env:"AUTH_HTTP_HEADER" envDefault:"Authorization"`

	// Prefix is the scheme prefix stripped from the header value.
	// Defaults to "Bearer ".
	Prefix string `json:"prefix" env:"AUTH_HTTP_PREFIX" envDefault:"Bearer "`

	// Logger receives warnings for rejected requests. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger `json:"-"`
}

// Middleware returns an HTTP middleware that authenticates every request.
//
// The middleware extracts the bearer token, verifies it with the
// validator, maps its claims to a [Principal], optionally replaces the
// principal's access through the access cache, and stores the principal in
// the request context for downstream handlers.
//
// Requests without a token or with an invalid one are rejected with a 401
// JSON body carrying the failure code. The access cache parameter may be
// nil, in which case principals keep their token-embedded access.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/orders", handleOrders)
//	handler := auth.Middleware(validator, mapper, access, auth.MiddlewareConfig{})(mux)
func Middleware(validator *TokenValidator, mapper *ClaimsMapper, access *AccessCache, cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Header == "" {
		cfg.Header = HeaderAuthorization
	}
	if cfg.Prefix == "" {
		cfg.Prefix = BearerPrefix
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := ExtractBearerToken(r.Header.Get(cfg.Header), cfg.Prefix)
			if token == "" {
				writeError(w, mserr.New(mserr.CodeAuthentication, "missing or invalid authorization header"))
				return
			}

			claims, err := validator.Decode(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "request token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, err)
				return
			}

			principal, err := mapper.BuildPrincipal(claims)
			if err != nil {
				logger.WarnContext(ctx, "request claims rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, err)
				return
			}

			if access != nil {
				if err := access.LoadAccess(ctx, principal); err != nil {
					writeError(w, err)
					return
				}
			}

			ctx = ContextWithPrincipal(ctx, principal)
			ctx = ContextWithToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole returns a middleware rejecting requests whose principal lacks
// the given role. Run it after [Middleware]; a request without a principal
// is rejected as unauthenticated.
func RequireRole(role string) func(http.Handler) http.Handler {
	return requireAccess(func(p *Principal) bool { return p.HasRole(role) }, "missing required role")
}

// RequirePermission returns a middleware rejecting requests whose principal
// lacks the given permission. Run it after [Middleware].
func RequirePermission(permission string) func(http.Handler) http.Handler {
	return requireAccess(func(p *Principal) bool { return p.HasPermission(permission) }, "missing required permission")
}

// requireAccess builds the shared role/permission gate.
func requireAccess(allowed func(*Principal) bool, denyMsg string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, mserr.New(mserr.CodeAuthentication, "no authenticated principal"))
				return
			}
			if !allowed(principal) {
				writeError(w, mserr.New(mserr.CodeAuthorizationDenied, denyMsg))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// errorResponse is the JSON body written for rejected requests.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError writes a JSON error response with the status mapped from the
// error's code. Non-classified errors render as a 401; the middleware never
// leaks internal detail to the client.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusUnauthorized
	code := mserr.CodeAuthentication
	message := "unauthenticated"

	if msErr, ok := mserr.AsError(err); ok {
		status = msErr.HTTPStatus()
		code = msErr.Code
		message = msErr.Message
		if status == http.StatusForbidden {
			message = "forbidden"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code.String()})
}

// PropagatingRoundTripper wraps an [http.RoundTripper] to propagate the
// caller's bearer token and correlation ID to outgoing HTTP requests,
// preserving identity across service hops. Both values are read from the
// request context, where [Middleware] and [CorrelationMiddleware] put them.
//
// Example:
//
//	client := &http.Client{
//	    Transport: auth.NewPropagatingRoundTripper(http.DefaultTransport),
//	}
//	resp, err := client.Do(req.WithContext(ctx))
type PropagatingRoundTripper struct {
	wrapped http.RoundTripper
}

// NewPropagatingRoundTripper creates a PropagatingRoundTripper around the
// given transport. If transport is nil, [http.DefaultTransport] is used.
func NewPropagatingRoundTripper(transport http.RoundTripper) *PropagatingRoundTripper {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &PropagatingRoundTripper{wrapped: transport}
}

// RoundTrip executes the HTTP request with the bearer token and correlation
// ID injected from the request context. A request that already carries an
// Authorization header is forwarded untouched.
//
// RoundTrip implements the [http.RoundTripper] interface.
func (t *PropagatingRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	clone := r.Clone(r.Context())

	if clone.Header.Get(HeaderAuthorization) == "" {
		if token, ok := TokenFromContext(r.Context()); ok {
			clone.Header.Set(HeaderAuthorization, BearerPrefix+token)
		}
	}
	if clone.Header.Get(HeaderCorrelationID) == "" {
		if correlationID, ok := CorrelationIDFromContext(r.Context()); ok {
			clone.Header.Set(HeaderCorrelationID, correlationID)
		}
	}

	return t.wrapped.RoundTrip(clone)
}
