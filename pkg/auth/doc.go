// Package auth provides bearer-token authentication and authorization
// primitives for microservices that sit behind an API gateway.
//
// # Token Validation
//
// [TokenValidator] decodes and cryptographically verifies JWT bearer tokens.
// Verification keys come from an internal key resolver with two sources:
//
//   - a static public key or HMAC secret (file path or literal value),
//     cached with a TTL and re-read after expiry
//   - a remote JWKS document fetched from the identity provider, cached by
//     URL and refetched once when a token presents an unknown key ID
//     (rotation-aware)
//
// A static key takes precedence when both sources are configured. With
// neither configured, construction fails with a configuration error so the
// problem surfaces at startup rather than as spurious 401s.
//
// # Principals
//
// [ClaimsMapper] normalizes heterogeneous identity-provider token shapes
// (flat claims, OIDC-style realm_access/resource_access nesting) into a
// [Principal]: an identifier, a claims bag, and order-stable role and
// permission sets. Claim locations are dot-notation paths, optionally with
// "*" wildcard segments to aggregate across sibling entries.
//
// # Session Guard
//
// [SessionGuard] is the stateful front-end counterpart: it keeps an opaque
// bearer token in an external session store, validates it per request,
// transparently refreshes it through the [IdentityClient] when it goes
// stale, and exposes the resulting Principal. All transport failures during
// refresh or user lookup degrade to an anonymous request; the guard never
// fails a request on its own.
//
// # Access Loading
//
// [AccessCache] memoizes per-principal role/permission grants fetched from
// the gateway, with a bounded TTL. Fetch failures are tolerated by default
// (empty access) with an opt-in strict mode that propagates them.
//
// # Middleware
//
// The package ships net/http middleware and gRPC interceptors that wire the
// pieces together: hard 401 at the boundary for missing or malformed
// bearer headers, principal construction on success, and RequireRole /
// RequirePermission guards that return 403. Correlation IDs are generated
// or propagated alongside for request tracing across services.
package auth
