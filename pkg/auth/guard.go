package auth

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// GuardState describes where a [SessionGuard] is in its lifecycle. A guard
// starts Anonymous, becomes Authenticated on a successful resolution or
// login, and moves to Expired or LoggedOut when the session ends.
type GuardState string

const (
	// StateAnonymous means no principal has been established.
	StateAnonymous GuardState = "anonymous"

	// StateAuthenticated means a principal was established from a valid
	// session token.
	StateAuthenticated GuardState = "authenticated"

	// StateExpired means the session token became invalid and could not
	// be refreshed.
	StateExpired GuardState = "expired"

	// StateLoggedOut means the session was ended explicitly.
	StateLoggedOut GuardState = "logged_out"
)

// LoginResult is the identity service's response to a login or refresh. Some
// deployments embed the user payload in the login response; when present it
// saves the guard a follow-up profile call.
type LoginResult struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	TokenType    string         `json:"token_type,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	User         map[string]any `json:"user,omitempty"`
}

// IdentityClient is the slice of the identity service the guard needs for
// session establishment and renewal. [gateway.Client] implements it.
type IdentityClient interface {
	// Login exchanges credentials for a token pair.
	Login(ctx context.Context, credentials map[string]any) (*LoginResult, error)

	// Refresh exchanges a previously issued token for a fresh one.
	Refresh(ctx context.Context, token string) (*LoginResult, error)

	// Me returns the profile of the user the token belongs to.
	Me(ctx context.Context, token string) (map[string]any, error)
}

// SessionStore persists the session token between requests. Implementations
// wrap whatever session mechanism the application uses (cookie session,
// server-side store); [MemorySessionStore] serves tests and stateless
// tools.
type SessionStore interface {
	// Token returns the stored session token, or empty when none is set.
	Token(ctx context.Context) (string, error)

	// StoreToken replaces the stored session token.
	StoreToken(ctx context.Context, token string) error

	// ClearToken removes the stored session token. Clearing an empty
	// store is not an error.
	ClearToken(ctx context.Context) error
}

// MemorySessionStore is an in-memory [SessionStore]. It is safe for
// concurrent use.
type MemorySessionStore struct {
	mu    sync.Mutex
	token string
}

var _ SessionStore = (*MemorySessionStore)(nil)

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{}
}

// Token returns the stored session token.
func (s *MemorySessionStore) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

// StoreToken replaces the stored session token.
func (s *MemorySessionStore) StoreToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// ClearToken removes the stored session token.
func (s *MemorySessionStore) ClearToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

// GuardConfig configures a [SessionGuard].
type GuardConfig struct {
	// DisableRefresh turns off the refresh attempt for invalid session
	// tokens: the guard expires immediately instead of exchanging the
	// token for a fresh one via the identity service. The zero value
	// keeps refresh enabled.
	DisableRefresh bool `json:"disable_refresh" env:"AUTH_GUARD_DISABLE_REFRESH" envDefault:"false"`

	// OnLogin, when set, is invoked after every successful login or
	// token refresh with the newly established principal. Useful for
	// audit hooks. The hook runs synchronously and must not call back
	// into the guard.
	OnLogin func(*Principal) `json:"-"`

	// Logger receives warnings for refresh and resolution failures. If
	// nil, [slog.Default] is used.
	Logger *slog.Logger `json:"-"`
}

// SessionGuard establishes the authenticated principal for one request from
// a stored session token. Resolution is memoized: the first
// [SessionGuard.ResolvePrincipal] call does the work and every later call
// returns the same answer, so a guard must be scoped to a single request.
//
// Authentication failures are never request-fatal. A missing, invalid, or
// unrefreshable token leaves the guard anonymous; only the caller decides
// whether anonymity means 401 for the route at hand.
type SessionGuard struct {
	config    GuardConfig
	validator *TokenValidator
	mapper    *ClaimsMapper
	identity  IdentityClient
	store     SessionStore
	access    *AccessCache
	logger    *slog.Logger
	tracer    trace.Tracer

	mu        sync.Mutex
	resolved  bool
	principal *Principal
	state     GuardState
}

// NewSessionGuard creates a guard for one request. The identity client and
// access cache are optional: without an identity client the guard cannot
// refresh or log in, and without an access cache principals keep the roles
// and permissions embedded in their token.
func NewSessionGuard(cfg GuardConfig, validator *TokenValidator, mapper *ClaimsMapper, identity IdentityClient, store SessionStore, access *AccessCache) *SessionGuard {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionGuard{
		config:    cfg,
		validator: validator,
		mapper:    mapper,
		identity:  identity,
		store:     store,
		access:    access,
		logger:    logger,
		tracer:    otel.Tracer(tracerName),
		state:     StateAnonymous,
	}
}

// State returns the guard's current lifecycle state.
func (g *SessionGuard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// ResolvePrincipal returns the principal for the current session, or nil
// when the session is anonymous. The first call resolves; later calls
// return the memoized result.
//
// An invalid stored token is refreshed once through the identity service
// when refresh is enabled. Every failure along the way (store errors,
// validation, refresh transport) degrades to anonymous with a warning log;
// none of them surface as errors to the caller.
func (g *SessionGuard) ResolvePrincipal(ctx context.Context) *Principal {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.resolved {
		return g.principal
	}
	g.resolved = true

	ctx, span := startSpan(ctx, g.tracer, "auth.ResolvePrincipal")
	defer span.End()

	token, err := g.store.Token(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "session store read failed", slog.String("error", err.Error()))
		return nil
	}
	if token == "" {
		span.SetAttributes(attribute.String("auth.guard_state", string(StateAnonymous)))
		return nil
	}

	refreshed := false
	claims, err := g.validator.Decode(ctx, token)
	if err != nil {
		if g.config.DisableRefresh || g.identity == nil {
			g.logger.WarnContext(ctx, "session token invalid", slog.String("error", err.Error()))
			g.state = StateExpired
			return nil
		}

		result, refreshErr := g.identity.Refresh(ctx, token)
		if refreshErr != nil || result == nil || result.AccessToken == "" {
			if refreshErr == nil {
				refreshErr = mserr.New(mserr.CodeRefreshFailed, "auth: identity service returned no token")
			}
			g.logger.WarnContext(ctx, "session refresh failed", slog.String("error", refreshErr.Error()))
			g.clearSessionLocked(ctx)
			return nil
		}

		claims, err = g.validator.Decode(ctx, result.AccessToken)
		if err != nil {
			g.logger.WarnContext(ctx, "refreshed token invalid", slog.String("error", err.Error()))
			g.clearSessionLocked(ctx)
			return nil
		}

		if err := g.store.StoreToken(ctx, result.AccessToken); err != nil {
			g.logger.WarnContext(ctx, "session store write failed", slog.String("error", err.Error()))
		}
		token = result.AccessToken
		refreshed = true
	}

	principal, err := g.buildSessionPrincipal(ctx, token, claims, nil)
	if err != nil {
		g.logger.WarnContext(ctx, "principal resolution failed", slog.String("error", err.Error()))
		return nil
	}

	g.setAuthenticatedLocked(principal)
	if refreshed && g.config.OnLogin != nil {
		g.config.OnLogin(principal)
	}
	span.SetAttributes(
		attribute.String("auth.principal_id", principal.ID()),
		attribute.Bool("auth.refreshed", refreshed),
	)
	return principal
}

// clearSessionLocked removes the stored token after an unrecoverable refresh
// failure and records the session as expired. Caller must hold the guard
// mutex.
func (g *SessionGuard) clearSessionLocked(ctx context.Context) {
	if err := g.store.ClearToken(ctx); err != nil {
		g.logger.WarnContext(ctx, "session store clear failed", slog.String("error", err.Error()))
	}
	g.state = StateExpired
}

// Check reports whether the current session resolves to a principal.
func (g *SessionGuard) Check(ctx context.Context) bool {
	return g.ResolvePrincipal(ctx) != nil
}

// Attempt logs in with the given credentials through the identity service
// and establishes the returned token as the current session. It reports
// whether the attempt succeeded; the error carries the failure detail.
func (g *SessionGuard) Attempt(ctx context.Context, credentials map[string]any) (bool, error) {
	if g.identity == nil {
		return false, mserr.New(mserr.CodeInternalConfiguration, "auth: guard has no identity client")
	}

	result, err := g.identity.Login(ctx, credentials)
	if err != nil {
		return false, err
	}
	if result == nil || result.AccessToken == "" {
		return false, mserr.New(mserr.CodeAuthentication, "auth: identity service returned no token")
	}

	if _, err := g.LoginWithToken(ctx, result.AccessToken, result.User); err != nil {
		return false, err
	}
	return true, nil
}

// LoginWithToken establishes the given token as the current session without
// a credential exchange, as after an external provider callback or a
// registration flow. When userData is empty the user payload is fetched
// from the identity service, and only when neither yields anything is the
// token decoded for its claims. Opaque tokens are therefore accepted as
// long as a user payload is available; the token is stored exactly as
// issued. A failure to build the principal leaves the previous session
// untouched.
func (g *SessionGuard) LoginWithToken(ctx context.Context, token string, userData map[string]any) (*Principal, error) {
	if token == "" {
		return nil, mserr.New(mserr.CodeValidationRequired, "auth: session token is required")
	}
	principal, err := g.buildSessionPrincipal(ctx, token, nil, userData)
	if err != nil {
		return nil, err
	}

	if err := g.store.StoreToken(ctx, token); err != nil {
		return nil, mserr.Wrap(err, mserr.CodeInternal, "auth: failed to persist session token")
	}

	g.mu.Lock()
	g.setAuthenticatedLocked(principal)
	g.mu.Unlock()

	if g.config.OnLogin != nil {
		g.config.OnLogin(principal)
	}
	return principal, nil
}

// Logout ends the current session: the stored token is cleared and the
// guard becomes anonymous for the rest of the request.
func (g *SessionGuard) Logout(ctx context.Context) error {
	g.mu.Lock()
	g.resolved = true
	g.principal = nil
	g.state = StateLoggedOut
	g.mu.Unlock()

	if err := g.store.ClearToken(ctx); err != nil {
		return mserr.Wrap(err, mserr.CodeInternal, "auth: failed to clear session token")
	}
	return nil
}

// Token returns the current session token, or empty when none is stored.
func (g *SessionGuard) Token(ctx context.Context) string {
	token, err := g.store.Token(ctx)
	if err != nil {
		g.logger.WarnContext(ctx, "session store read failed", slog.String("error", err.Error()))
		return ""
	}
	return token
}

// buildSessionPrincipal maps an identity payload to a principal: the given
// userData when non-empty, the identity service's profile when a client is
// configured, the token claims otherwise. A nil claims map is decoded on
// demand, which happens only on the claims fallback; login paths with a
// user payload never require the token to be a decodable JWT. Access is
// loaded onto the principal when an access cache is configured.
func (g *SessionGuard) buildSessionPrincipal(ctx context.Context, token string, claims, userData map[string]any) (*Principal, error) {
	payload := userData
	if len(payload) == 0 && g.identity != nil {
		me, err := g.identity.Me(ctx, token)
		if err != nil {
			return nil, err
		}
		payload = me
	}
	if len(payload) == 0 {
		if claims == nil {
			decoded, err := g.validator.Decode(ctx, token)
			if err != nil {
				return nil, err
			}
			claims = decoded
		}
		payload = claims
	}

	principal, err := g.mapper.BuildPrincipal(payload)
	if err != nil {
		return nil, err
	}
	if g.access != nil {
		if err := g.access.LoadAccess(ctx, principal); err != nil {
			return nil, err
		}
	}
	return principal, nil
}

// setAuthenticatedLocked records a successful resolution. Caller must hold
// the guard mutex.
func (g *SessionGuard) setAuthenticatedLocked(principal *Principal) {
	g.resolved = true
	g.principal = principal
	g.state = StateAuthenticated
}
