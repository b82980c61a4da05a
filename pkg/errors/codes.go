package errors

// Code represents a machine-readable error code for categorizing errors.
// Codes follow the pattern CATEGORY_XXX where CATEGORY is a short identifier
// (e.g. AUTH, VAL, INT) and XXX is a three-digit numeric code.
//
// Error codes are designed to be:
//   - Stable: codes do not change once assigned
//   - Unique: each error condition has a distinct code
//   - Machine-readable: suitable for automated error handling and alerting
type Code string

// Error code categories and their HTTP mappings:
//
//	VAL_xxx     - Validation errors (400 Bad Request)
//	AUTH_xxx    - Authentication errors (401 Unauthorized)
//	AUTHZ_xxx   - Authorization errors (403 Forbidden)
//	NF_xxx      - Not found errors (404 Not Found)
//	INT_xxx     - Internal errors (500 Internal Server Error)
//	UNAVAIL_xxx - Service unavailable (503 Service Unavailable)
//	TIMEOUT_xxx - Timeout errors (504 Gateway Timeout)
const (
	// Validation errors (VAL_xxx) - HTTP 400

	// CodeValidation indicates a general validation failure.
	CodeValidation Code = "VAL_001"

	// CodeValidationRequired indicates a required field is missing.
	CodeValidationRequired Code = "VAL_002"

	// Authentication errors (AUTH_xxx) - HTTP 401

	// CodeAuthentication indicates a general authentication failure.
	CodeAuthentication Code = "AUTH_001"

	// CodeAuthenticationExpired indicates the token has expired.
	CodeAuthenticationExpired Code = "AUTH_002"

	// CodeAuthenticationInvalid indicates the token signature could not be
	// verified or some verified claim (issuer, audience) is wrong.
	CodeAuthenticationInvalid Code = "AUTH_003"

	// CodeAuthenticationMalformed indicates the token is structurally
	// broken (wrong segment count, undecodable header or payload) and
	// never reached signature verification.
	CodeAuthenticationMalformed Code = "AUTH_004"

	// CodeKeyUnavailable indicates no verification key could be resolved
	// for the token: the remote key set could not be fetched, or the
	// token's key ID is not present even after a rotation refetch. Logged
	// distinctly for operational alerting but surfaced as a 401.
	CodeKeyUnavailable Code = "AUTH_005"

	// CodeRefreshFailed indicates the session token could not be refreshed
	// against the identity service. The guard treats this as a fallback
	// to anonymous, never a request-fatal error.
	CodeRefreshFailed Code = "AUTH_006"

	// Authorization errors (AUTHZ_xxx) - HTTP 403

	// CodeAuthorization indicates a general authorization failure.
	CodeAuthorization Code = "AUTHZ_001"

	// CodeAuthorizationDenied indicates the principal lacks a required
	// role or permission.
	CodeAuthorizationDenied Code = "AUTHZ_002"

	// Not found errors (NF_xxx) - HTTP 404

	// CodeNotFound indicates a general not found error.
	CodeNotFound Code = "NF_001"

	// Internal errors (INT_xxx) - HTTP 500

	// CodeInternal indicates a general internal error.
	CodeInternal Code = "INT_001"

	// CodeInternalConfiguration indicates a configuration error, such as
	// no token verification source being configured. This is fatal at
	// construction time, not a per-request recoverable condition.
	CodeInternalConfiguration Code = "INT_002"

	// Unavailable errors (UNAVAIL_xxx) - HTTP 503

	// CodeUnavailable indicates a general service unavailable error.
	CodeUnavailable Code = "UNAVAIL_001"

	// CodeUnavailableDependency indicates the identity provider or API
	// gateway could not serve a request (access fetch, key set download).
	CodeUnavailableDependency Code = "UNAVAIL_002"

	// Timeout errors (TIMEOUT_xxx) - HTTP 504

	// CodeTimeout indicates a general timeout error.
	CodeTimeout Code = "TIMEOUT_001"

	// CodeTimeoutDependency indicates a call to the identity provider or
	// API gateway timed out.
	CodeTimeoutDependency Code = "TIMEOUT_002"
)

// String returns the string representation of the error code.
func (c Code) String() string {
	return string(c)
}

// Category returns the category prefix of the error code (e.g. "VAL", "AUTH").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
