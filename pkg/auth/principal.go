package auth

import (
	"errors"
)

// AccessUser is the capability interface for identities whose roles and
// permissions are loaded after construction (e.g. from a remote permissions
// endpoint). Every principal produced by this package satisfies it
// unconditionally; callers never need to probe for optional methods.
type AccessUser interface {
	// LoadAccess replaces the identity's role and permission sets.
	LoadAccess(roles, permissions []string)

	// HasRole reports whether the identity carries the given role.
	HasRole(role string) bool

	// HasPermission reports whether the identity carries the given
	// permission.
	HasPermission(permission string) bool
}

// Principal is the authenticated identity attached to a request: an
// identifier, the decoded claims it was built from, and normalized role and
// permission sets. It is the single concrete principal type used across the
// package; provider-specific attributes live in the claims bag rather than
// in swappable subclasses.
//
// A Principal always has a non-empty ID. Role and permission sets default
// to empty slices, never nil. Principals are constructed per request by
// [ClaimsMapper.BuildPrincipal] and mutated at most once afterwards via
// [Principal.LoadAccess]; they are not safe for concurrent mutation.
type Principal struct {
	id          string
	claims      map[string]any
	roles       []string
	permissions []string
}

// Compile-time assertion that Principal satisfies AccessUser.
var _ AccessUser = (*Principal)(nil)

// NewPrincipal creates a Principal with the given identifier, claims, and
// access sets. The claims map and both slices are defensively copied.
// Returns an error if id is empty: an identity without an identifier cannot
// be authorized or audited.
func NewPrincipal(id string, claims map[string]any, roles, permissions []string) (*Principal, error) {
	if id == "" {
		return nil, errors.New("auth: principal id must not be empty")
	}
	copied := make(map[string]any, len(claims))
	for k, v := range claims {
		copied[k] = v
	}
	return &Principal{
		id:          id,
		claims:      copied,
		roles:       copyStrings(roles),
		permissions: copyStrings(permissions),
	}, nil
}

// ID returns the principal's unique identifier, derived from the configured
// identifier claim or the standard subject claim.
func (p *Principal) ID() string { return p.id }

// Claims returns a shallow copy of the claims the principal was built from.
// Callers may modify the returned map freely.
func (p *Principal) Claims() map[string]any {
	copied := make(map[string]any, len(p.claims))
	for k, v := range p.claims {
		copied[k] = v
	}
	return copied
}

// Claim returns the named claim value, or nil if absent. Only top-level
// claim names are looked up; use [ResolveClaimPath] for nested paths.
func (p *Principal) Claim(name string) any {
	return p.claims[name]
}

// Roles returns a copy of the principal's role set, order-stable and
// deduplicated. Never nil.
func (p *Principal) Roles() []string { return copyStrings(p.roles) }

// Permissions returns a copy of the principal's permission set,
// order-stable and deduplicated. Never nil.
func (p *Principal) Permissions() []string { return copyStrings(p.permissions) }

// LoadAccess replaces the principal's role and permission sets, typically
// with grants fetched from the remote permissions endpoint. Nil inputs
// become empty sets.
func (p *Principal) LoadAccess(roles, permissions []string) {
	p.roles = copyStrings(roles)
	p.permissions = copyStrings(permissions)
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	return containsString(p.roles, role)
}

// HasPermission reports whether the principal carries the given permission.
func (p *Principal) HasPermission(permission string) bool {
	return containsString(p.permissions, permission)
}

// HasAccess reports whether the principal's role and permission sets are
// both empty. Used to decide whether a remote access load is still needed
// when embedded claims are preferred.
func (p *Principal) HasAccess() bool {
	return len(p.roles) > 0 || len(p.permissions) > 0
}

// copyStrings returns a copy of in, normalizing nil to an empty slice.
func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
