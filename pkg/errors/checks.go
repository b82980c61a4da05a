package errors

import "errors"

// AsError extracts an *Error from err's chain. Returns the extracted error
// and true on success, or nil and false if no *Error is present.
//
// Example:
//
//	if e, ok := errors.AsError(err); ok {
//	    slog.Warn("request failed", "code", e.Code, "message", e.Message)
//	}
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// HasCode reports whether err's chain contains an *Error with the given code.
func HasCode(err error, code Code) bool {
	e, ok := AsError(err)
	return ok && e.Code == code
}

// hasCategory reports whether err's chain contains an *Error whose code
// belongs to the given category prefix.
func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports whether err is a validation error (VAL_xxx).
func IsValidation(err error) bool {
	return hasCategory(err, "VAL")
}

// IsAuthentication reports whether err is an authentication error
// (AUTH_xxx): malformed, expired, badly signed tokens, unavailable keys,
// or failed refresh. All of these surface as HTTP 401.
func IsAuthentication(err error) bool {
	return hasCategory(err, "AUTH")
}

// IsAuthorization reports whether err is an authorization error (AUTHZ_xxx).
func IsAuthorization(err error) bool {
	return hasCategory(err, "AUTHZ")
}

// IsNotFound reports whether err is a not found error (NF_xxx).
func IsNotFound(err error) bool {
	return hasCategory(err, "NF")
}

// IsInternal reports whether err is an internal error (INT_xxx).
func IsInternal(err error) bool {
	return hasCategory(err, "INT")
}

// IsUnavailable reports whether err is a service unavailable error
// (UNAVAIL_xxx), such as a failed access fetch or key set download.
func IsUnavailable(err error) bool {
	return hasCategory(err, "UNAVAIL")
}

// IsTimeout reports whether err is a timeout error (TIMEOUT_xxx).
func IsTimeout(err error) bool {
	return hasCategory(err, "TIMEOUT")
}

// IsKeyUnavailable reports whether err indicates that no verification key
// could be resolved for a token. Callers treat this as a validation failure
// (401) but may alert on it separately, since it usually indicates a broken
// key rotation or an unreachable identity provider.
func IsKeyUnavailable(err error) bool {
	return HasCode(err, CodeKeyUnavailable)
}

// IsConfiguration reports whether err indicates a configuration problem,
// such as no verification source being configured. Configuration errors are
// fatal at startup and never per-request recoverable.
func IsConfiguration(err error) bool {
	return HasCode(err, CodeInternalConfiguration)
}
