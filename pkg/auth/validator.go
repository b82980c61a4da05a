package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// tracerName is the OpenTelemetry instrumentation scope name for auth spans.
const tracerName = "github.com/KroderDev/go-microservice-core/pkg/auth"

// maxTokenSize is the maximum accepted size for a JWT token string (8 KB).
// Tokens larger than this are rejected to prevent resource exhaustion.
const maxTokenSize = 8192

// ValidatorConfig holds the configuration for [TokenValidator]. Exactly one
// verification source is required: a static key (PublicKey) or a remote key
// set (JWKSURL). When both are set, the static key wins and the JWKS URL is
// never contacted.
type ValidatorConfig struct {
	// PublicKey is the static verification key. For HMAC algorithms this
	// is the raw shared secret; for RSA and ECDSA it is a PEM-encoded
	// public key. The Secret type prevents accidental logging of the
	// key material.
	PublicKey Secret `json:"-" env:"AUTH_PUBLIC_KEY"`

	// PublicKeyFile is a filesystem path to the static verification key.
	// The file is read at construction and re-read after KeyCacheTTL
	// expires, so an on-disk key rotation is picked up without a restart.
	// Mutually exclusive with PublicKey.
	PublicKeyFile string `json:"public_key_file,omitempty" env:"AUTH_PUBLIC_KEY_FILE"`

	// Algorithm is the only signing algorithm accepted for incoming
	// tokens. Tokens signed with any other algorithm are rejected before
	// signature verification, which closes the door on algorithm
	// confusion attacks. Defaults to RS256.
	Algorithm string `json:"algorithm" env:"AUTH_ALGORITHM" envDefault:"RS256"`

	// JWKSURL is the URL of the issuer's JSON Web Key Set. Used only
	// when PublicKey is empty.
	JWKSURL string `json:"jwks_url,omitempty" env:"AUTH_JWKS_URL"`

	// KeyCacheTTL is the time a fetched key set or file-loaded key is
	// cached before being refreshed from its source. An unknown key ID
	// forces one JWKS refresh regardless of this TTL. Must be
	// non-negative. Defaults to 1 hour.
	KeyCacheTTL time.Duration `json:"key_cache_ttl" env:"AUTH_KEY_CACHE_TTL" envDefault:"1h"`

	// Leeway is the maximum allowed clock difference between this service
	// and the token issuer when checking exp, nbf, and iat claims. Must
	// be non-negative. Defaults to 30 seconds.
	Leeway time.Duration `json:"leeway" env:"AUTH_LEEWAY" envDefault:"30s"`

	// Issuer is the expected "iss" claim. If empty, the issuer claim is
	// not validated.
	Issuer string `json:"issuer,omitempty" env:"AUTH_ISSUER"`

	// Audience is the expected "aud" claim. If empty, the audience claim
	// is not validated.
	Audience string `json:"audience,omitempty" env:"AUTH_AUDIENCE"`

	// HTTPClient is the HTTP client used for fetching the key set. If
	// nil, a default [http.Client] with a 10-second timeout is used.
	HTTPClient HTTPClient `json:"-"`

	// Logger receives warnings for rejected tokens. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger `json:"-"`
}

// Validate checks the configuration for logical correctness and returns a
// *[mserr.Error] if any field is invalid. A missing verification source is
// a configuration error (INT_002), not an authentication error: it means
// the deployment is broken, and surfacing it per-request as a 401 would
// hide that from operators.
func (c *ValidatorConfig) Validate() *mserr.Error {
	if c.PublicKey.Value() == "" && c.PublicKeyFile == "" && c.JWKSURL == "" {
		return mserr.New(mserr.CodeInternalConfiguration, "auth: either a public key or a JWKS URL must be configured")
	}
	if c.PublicKey.Value() != "" && c.PublicKeyFile != "" {
		return mserr.New(mserr.CodeInternalConfiguration, "auth: public key and public key file are mutually exclusive")
	}
	if c.Algorithm == "" {
		return mserr.New(mserr.CodeInternalConfiguration, "auth: signing algorithm must not be empty")
	}
	if c.KeyCacheTTL < 0 {
		return mserr.New(mserr.CodeValidation, "auth: key cache TTL must be non-negative")
	}
	if c.Leeway < 0 {
		return mserr.New(mserr.CodeValidation, "auth: leeway must be non-negative")
	}
	return nil
}

// DefaultValidatorConfig returns a ValidatorConfig with the package
// defaults. A verification source (PublicKey or JWKSURL) must still be set
// before the config passes validation.
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		Algorithm:   "RS256",
		KeyCacheTTL: 1 * time.Hour,
		Leeway:      30 * time.Second,
	}
}

// TokenValidator verifies bearer tokens and exposes their claims. It
// resolves verification keys either from a static configured key or from a
// cached JWKS endpoint, restricts accepted algorithms to the single
// configured one, and classifies every failure into a stable error code.
//
// TokenValidator is safe for concurrent use by multiple goroutines.
type TokenValidator struct {
	config   ValidatorConfig
	resolver *keyResolver
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewTokenValidator creates a TokenValidator from the given configuration.
// The configuration is validated and the static key, if any, is parsed
// before use; an error is returned if either fails.
func NewTokenValidator(cfg ValidatorConfig) (*TokenValidator, error) {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "RS256"
	}
	if cfg.KeyCacheTTL == 0 {
		cfg.KeyCacheTTL = 1 * time.Hour
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	staticKey, err := parseStaticKey(cfg.PublicKey, cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	resolver := newKeyResolver(staticKey, cfg.PublicKeyFile, cfg.Algorithm, cfg.JWKSURL, cfg.KeyCacheTTL, httpClient)
	if cfg.PublicKeyFile != "" {
		// A broken key file is a deployment fault; surface it at
		// construction, not on the first request.
		if _, err := resolver.resolveFromFile(); err != nil {
			return nil, err
		}
	}

	return &TokenValidator{
		config:   cfg,
		resolver: resolver,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}, nil
}

// Decode verifies the signature and registered claims of the given token
// and returns its full claim set. The claims map is a fresh copy owned by
// the caller.
//
// Returns a *[mserr.Error] classified by failure mode: AUTH_004 for
// structurally broken tokens, AUTH_002 for expired ones, AUTH_005 when no
// verification key could be resolved, and AUTH_003 for everything else that
// fails verification.
func (v *TokenValidator) Decode(ctx context.Context, tokenStr string) (map[string]any, error) {
	ctx, span := startSpan(ctx, v.tracer, "auth.Decode")
	defer span.End()

	if tokenStr == "" {
		err := mserr.New(mserr.CodeAuthenticationMalformed, "auth: token must not be empty")
		finishSpan(span, err)
		return nil, err
	}
	if len(tokenStr) > maxTokenSize {
		err := mserr.New(mserr.CodeAuthenticationMalformed, "auth: token exceeds maximum size")
		finishSpan(span, err)
		return nil, err
	}
	if strings.Count(tokenStr, ".") != 2 {
		err := mserr.New(mserr.CodeAuthenticationMalformed, "auth: token must have three segments")
		finishSpan(span, err)
		return nil, err
	}

	// Inspect the header before verification to reject alg:none outright.
	parser := jwt.NewParser()
	unverified, _, err := parser.ParseUnverified(tokenStr, jwt.MapClaims{})
	if err != nil || unverified == nil {
		parseErr := mserr.New(mserr.CodeAuthenticationMalformed, "auth: token is malformed")
		finishSpan(span, parseErr)
		return nil, parseErr
	}
	algStr, _ := unverified.Header["alg"].(string)
	if strings.EqualFold(algStr, "none") {
		err := mserr.New(mserr.CodeAuthenticationInvalid, "auth: algorithm 'none' is not permitted")
		finishSpan(span, err)
		return nil, err
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{v.config.Algorithm}),
		jwt.WithLeeway(v.config.Leeway),
	}
	if v.config.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.config.Issuer))
	}
	if v.config.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.config.Audience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		kid, _ := token.Header["kid"].(string)
		return v.resolver.resolve(ctx, kid)
	}, parserOpts...)
	if err != nil {
		classifiedErr := classifyError(err)
		finishSpan(span, classifiedErr)
		return nil, classifiedErr
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		err := mserr.New(mserr.CodeAuthenticationInvalid, "auth: unable to extract token claims")
		finishSpan(span, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("auth.algorithm", v.config.Algorithm))
	return mapClaimsToMap(mc), nil
}

// IsValid reports whether the token verifies successfully. Rejections are
// logged at Warn level with the failure code; the token itself is logged
// with its signature segment redacted.
func (v *TokenValidator) IsValid(ctx context.Context, tokenStr string) bool {
	if _, err := v.Decode(ctx, tokenStr); err != nil {
		code := mserr.CodeAuthentication
		if msErr, ok := mserr.AsError(err); ok {
			code = msErr.Code
		}
		v.logger.WarnContext(ctx, "token rejected",
			slog.String("code", code.String()),
			slog.String("token", redactToken(tokenStr)),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// redactToken replaces the signature segment of a JWT with a placeholder so
// the token can appear in logs without being replayable. Inputs that are
// not three-segment tokens are fully redacted.
func redactToken(tokenStr string) string {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return secretRedacted
	}
	return parts[0] + "." + parts[1] + "." + secretRedacted
}

// mapClaimsToMap converts jwt.MapClaims to a plain map[string]any so claims
// can be passed around without carrying the jwt.MapClaims type.
func mapClaimsToMap(mc jwt.MapClaims) map[string]any {
	result := make(map[string]any, len(mc))
	for k, v := range mc {
		result[k] = v
	}
	return result
}

// classifyError converts a JWT library error or other error to an
// appropriate *mserr.Error with the correct error code. If the error is
// already an *mserr.Error, it is returned as-is.
func classifyError(err error) *mserr.Error {
	if err == nil {
		return nil
	}

	var msError *mserr.Error
	if errors.As(err, &msError) {
		return msError
	}

	if errors.Is(err, jwt.ErrTokenExpired) {
		return mserr.Wrap(err, mserr.CodeAuthenticationExpired, "auth: token has expired")
	}
	if errors.Is(err, jwt.ErrTokenMalformed) {
		return mserr.Wrap(err, mserr.CodeAuthenticationMalformed, "auth: token is malformed")
	}
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token is unverifiable")
	}
	if errors.Is(err, jwt.ErrTokenNotValidYet) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token is not yet valid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidAudience) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token audience is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidIssuer) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token issuer is invalid")
	}
	if errors.Is(err, jwt.ErrTokenInvalidClaims) {
		return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token claims are invalid")
	}

	return mserr.Wrap(err, mserr.CodeAuthenticationInvalid, "auth: token validation failed")
}

// startSpan creates a new OpenTelemetry span with the given name. Returns
// the updated context and span.
func startSpan(ctx context.Context, tracer trace.Tracer, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// finishSpan records an error on the span if err is non-nil and sets the
// span status to Error.
func finishSpan(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
