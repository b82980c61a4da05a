package auth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// MapperConfig controls how a verified claim set is turned into a
// [Principal]: which claim identifies the subject and which paths inside
// the claims hold roles and permissions.
//
// Paths use dot notation ("realm_access.roles"). A "*" segment matches
// every key at that level and aggregates the results, which is how client
// roles are collected across all clients in a Keycloak-style
// "resource_access" claim.
type MapperConfig struct {
	// IdentifierClaim is the claim holding the principal's identifier.
	// When it is the default "id" and the token carries a "sub" claim,
	// sub wins: the mapper copies sub into "id" so OIDC tokens and
	// first-party tokens produce the same principal shape. Defaults
	// to "id".
	IdentifierClaim string `json:"identifier_claim" env:"AUTH_IDENTIFIER_CLAIM" envDefault:"id"`

	// RolesPaths are all resolved and their values merged, preserving
	// path order and dropping duplicates. When empty or when no path
	// yields values, PrimaryRolesPath is used.
	RolesPaths []string `json:"roles_paths,omitempty" env:"AUTH_ROLES_PATHS"`

	// PermissionsPaths are all resolved and their values merged,
	// preserving path order and dropping duplicates. When no path yields
	// values, client roles are tried next (see MapClientRoles), then the
	// fallbacks below.
	PermissionsPaths []string `json:"permissions_paths,omitempty" env:"AUTH_PERMISSIONS_PATHS"`

	// PrimaryRolesPath is the fallback source of roles. Defaults to
	// "realm_access.roles", the Keycloak realm role location.
	PrimaryRolesPath string `json:"primary_roles_path" env:"AUTH_PRIMARY_ROLES_PATH" envDefault:"realm_access.roles"`

	// MapClientRoles enables the client-roles permissions fallback:
	// when no configured permissions path yields values, roles under
	// "resource_access" are used instead.
	MapClientRoles bool `json:"map_client_roles" env:"AUTH_MAP_CLIENT_ROLES" envDefault:"false"`

	// ClientID selects which client's roles inside "resource_access"
	// feed the permissions fallback when MapClientRoles is set. When
	// empty, roles from every client are aggregated.
	ClientID string `json:"client_id,omitempty" env:"AUTH_CLIENT_ID"`

	// MapPrimaryRolesToPermissions, when set, feeds the primary roles
	// into permissions before the final default kicks in. Useful for
	// issuers that only emit realm roles.
	MapPrimaryRolesToPermissions bool `json:"map_primary_roles_to_permissions" env:"AUTH_MAP_PRIMARY_ROLES_TO_PERMISSIONS" envDefault:"false"`
}

// DefaultMapperConfig returns a MapperConfig with the package defaults,
// tuned for Keycloak-style tokens.
func DefaultMapperConfig() MapperConfig {
	return MapperConfig{
		IdentifierClaim:  "id",
		PrimaryRolesPath: "realm_access.roles",
	}
}

// ClaimsMapper builds a [Principal] from a verified claim set according to
// a [MapperConfig]. The zero-value fallback chain means an unconfigured
// mapper still produces sensible principals from Keycloak tokens.
//
// ClaimsMapper is stateless and safe for concurrent use.
type ClaimsMapper struct {
	config MapperConfig
}

// NewClaimsMapper creates a mapper, filling unset config fields with the
// package defaults.
func NewClaimsMapper(cfg MapperConfig) *ClaimsMapper {
	if cfg.IdentifierClaim == "" {
		cfg.IdentifierClaim = "id"
	}
	if cfg.PrimaryRolesPath == "" {
		cfg.PrimaryRolesPath = "realm_access.roles"
	}
	return &ClaimsMapper{config: cfg}
}

// BuildPrincipal maps a verified claim set to a Principal. The claims map
// is copied; the caller's map is never mutated.
//
// Permissions resolve through a fallback chain: the merged values of the
// configured PermissionsPaths first, then client roles under
// "resource_access" when MapClientRoles is set, then the primary roles
// when MapPrimaryRolesToPermissions is set, and finally the principal's
// roles themselves. The last step means a role-only token
// still authorizes permission checks against its role names, which keeps
// simple deployments from needing two parallel claim structures.
func (m *ClaimsMapper) BuildPrincipal(claims map[string]any) (*Principal, error) {
	normalized := make(map[string]any, len(claims))
	for k, v := range claims {
		normalized[k] = v
	}

	// Prefer the standard subject claim for the default identifier. The
	// copy keeps downstream claim lookups of "id" consistent with the
	// principal's ID.
	if m.config.IdentifierClaim == "id" {
		if sub := claimString(normalized["sub"]); sub != "" {
			normalized["id"] = sub
		}
	}

	id := claimString(normalized[m.config.IdentifierClaim])
	if id == "" {
		id = claimString(normalized["sub"])
	}
	if id == "" {
		return nil, mserr.Newf(mserr.CodeAuthenticationInvalid, "auth: token has no usable identifier claim (%q or sub)", m.config.IdentifierClaim)
	}

	roles := m.resolveRoles(normalized)
	permissions := m.resolvePermissions(normalized, roles)

	return NewPrincipal(id, normalized, roles, permissions)
}

// resolveRoles returns the roles for the claim set: the merged values of
// every configured path, falling back to the primary roles path.
func (m *ClaimsMapper) resolveRoles(claims map[string]any) []string {
	if roles := resolveClaimPaths(claims, m.config.RolesPaths); len(roles) > 0 {
		return roles
	}
	return ResolveClaimPath(claims, m.config.PrimaryRolesPath)
}

// resolvePermissions walks the permissions fallback chain documented on
// [ClaimsMapper.BuildPrincipal].
func (m *ClaimsMapper) resolvePermissions(claims map[string]any, roles []string) []string {
	if perms := resolveClaimPaths(claims, m.config.PermissionsPaths); len(perms) > 0 {
		return perms
	}

	if m.config.MapClientRoles {
		clientPath := "resource_access.*.roles"
		if m.config.ClientID != "" {
			clientPath = "resource_access." + m.config.ClientID + ".roles"
		}
		if perms := ResolveClaimPath(claims, clientPath); len(perms) > 0 {
			return perms
		}
	}

	if m.config.MapPrimaryRolesToPermissions {
		if perms := ResolveClaimPath(claims, m.config.PrimaryRolesPath); len(perms) > 0 {
			return perms
		}
	}

	return roles
}

// ResolveClaimPath extracts a list of strings from a nested claim structure
// using a dot-notation path. A "*" segment matches every key at that level
// and aggregates the results in sorted key order, so output is
// deterministic regardless of map iteration order.
//
// The resolved value is flattened recursively; non-string leaves and empty
// strings are dropped, and duplicates are removed preserving first
// occurrence.
func ResolveClaimPath(claims map[string]any, path string) []string {
	if path == "" {
		return nil
	}
	values := resolveSegments(claims, strings.Split(path, "."))
	return dedupeStrings(values)
}

// resolveClaimPaths resolves every path and merges the results in path
// order, dropping duplicates across paths.
func resolveClaimPaths(claims map[string]any, paths []string) []string {
	var merged []string
	for _, path := range paths {
		merged = append(merged, ResolveClaimPath(claims, path)...)
	}
	return dedupeStrings(merged)
}

// resolveSegments walks the remaining path segments from the given node and
// returns the flattened string values at the end of the path.
func resolveSegments(node any, segments []string) []string {
	if len(segments) == 0 {
		return flattenStrings(node)
	}

	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}

	segment := segments[0]
	if segment == "*" {
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []string
		for _, k := range keys {
			out = append(out, resolveSegments(m[k], segments[1:])...)
		}
		return out
	}

	child, ok := m[segment]
	if !ok {
		return nil
	}
	return resolveSegments(child, segments[1:])
}

// flattenStrings collects the non-empty string leaves of a value. Slices
// and maps are descended recursively; map keys are visited in sorted order
// for determinism. Scalar non-string leaves are dropped.
func flattenStrings(value any) []string {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			out = append(out, flattenStrings(item)...)
		}
		return out
	case []string:
		var out []string
		for _, item := range v {
			if item != "" {
				out = append(out, item)
			}
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var out []string
		for _, k := range keys {
			out = append(out, flattenStrings(v[k])...)
		}
		return out
	default:
		return nil
	}
}

// dedupeStrings removes duplicates preserving the first occurrence.
func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// claimString converts a claim value to a string identifier. JSON numbers
// arrive as float64 or json.Number depending on the decoder; both are
// rendered without a decimal point when integral.
func claimString(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return ""
	}
}
