package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// accessKeyPrefix namespaces cached access grants by user ID.
const accessKeyPrefix = "user_access:"

// AccessGrant is the effective access of one principal as reported by the
// authorization service.
type AccessGrant struct {
	UserID      string   `json:"user_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

// AccessFetcher retrieves a principal's effective access from the
// authorization service. [gateway.Client] implements it.
type AccessFetcher interface {
	FetchAccess(ctx context.Context, userID string) (*AccessGrant, error)
}

// AccessCacheConfig configures an [AccessCache].
type AccessCacheConfig struct {
	// TTL is how long a fetched grant stays cached before the next
	// lookup goes back to the authorization service. Defaults to 60
	// seconds: long enough to absorb request bursts, short enough that
	// a revocation takes effect within a minute.
	TTL time.Duration `json:"ttl" env:"AUTH_ACCESS_CACHE_TTL" envDefault:"60s"`

	// PreferEmbeddedClaims skips the remote fetch for principals whose
	// token already carries roles or permissions.
	PreferEmbeddedClaims bool `json:"prefer_embedded_claims" env:"AUTH_ACCESS_PREFER_EMBEDDED" envDefault:"false"`

	// Strict makes fetch failures surface as errors instead of leaving
	// the principal with its token-embedded access. Off by default: a
	// flapping authorization service should degrade capability, not
	// availability.
	Strict bool `json:"strict" env:"AUTH_ACCESS_STRICT" envDefault:"false"`

	// Logger receives warnings for tolerated fetch failures. If nil,
	// [slog.Default] is used.
	Logger *slog.Logger `json:"-"`
}

// AccessCache caches per-principal access grants in front of an
// [AccessFetcher]. Grants are stored as JSON under "user_access:<id>" so a
// shared [RedisCache] makes one fetch serve every replica.
//
// AccessCache is safe for concurrent use by multiple goroutines.
type AccessCache struct {
	config  AccessCacheConfig
	fetcher AccessFetcher
	cache   Cache
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewAccessCache creates an access cache over the given fetcher and cache
// backend. A nil cache falls back to a fresh [MemoryCache].
func NewAccessCache(cfg AccessCacheConfig, fetcher AccessFetcher, cache Cache) *AccessCache {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cache == nil {
		cache = NewMemoryCache()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AccessCache{
		config:  cfg,
		fetcher: fetcher,
		cache:   cache,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
}

// GetAccessFor returns the effective access of the given user, from cache
// when fresh and from the authorization service otherwise. Cache backend
// failures are tolerated on the read path; a successful fetch is always
// returned even when it could not be cached.
func (c *AccessCache) GetAccessFor(ctx context.Context, userID string) (*AccessGrant, error) {
	if userID == "" {
		return nil, mserr.New(mserr.CodeValidation, "auth: user ID must not be empty")
	}

	ctx, span := startSpan(ctx, c.tracer, "auth.GetAccessFor")
	defer span.End()

	key := accessKeyPrefix + userID
	if data, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		var grant AccessGrant
		if err := json.Unmarshal(data, &grant); err == nil {
			span.SetAttributes(attribute.Bool("auth.cache_hit", true))
			return &grant, nil
		}
		// Unreadable entry; drop it and refetch.
		_ = c.cache.Delete(ctx, key)
	} else if err != nil {
		c.logger.WarnContext(ctx, "access cache read failed", slog.String("error", err.Error()))
	}
	span.SetAttributes(attribute.Bool("auth.cache_hit", false))

	grant, err := c.fetcher.FetchAccess(ctx, userID)
	if err != nil {
		wrapped := mserr.Wrap(err, mserr.CodeUnavailableDependency, "auth: access fetch failed")
		finishSpan(span, wrapped)
		return nil, wrapped
	}
	if grant == nil {
		grant = &AccessGrant{UserID: userID}
	}

	if data, err := json.Marshal(grant); err == nil {
		if err := c.cache.Set(ctx, key, data, c.config.TTL); err != nil {
			c.logger.WarnContext(ctx, "access cache write failed", slog.String("error", err.Error()))
		}
	}
	return grant, nil
}

// LoadAccess replaces the principal's roles and permissions with its
// cached or freshly fetched grant.
//
// When PreferEmbeddedClaims is set and the token already carries roles or
// permissions, the remote fetch is skipped entirely. A fetch failure is
// logged and tolerated unless Strict is set, in which case it surfaces as
// an UNAVAIL_002 error.
func (c *AccessCache) LoadAccess(ctx context.Context, principal *Principal) error {
	if principal == nil {
		return mserr.New(mserr.CodeValidation, "auth: principal must not be nil")
	}
	if c.config.PreferEmbeddedClaims && (len(principal.Roles()) > 0 || len(principal.Permissions()) > 0) {
		return nil
	}

	grant, err := c.GetAccessFor(ctx, principal.ID())
	if err != nil {
		if c.config.Strict {
			return err
		}
		c.logger.WarnContext(ctx, "access fetch failed, keeping embedded access",
			slog.String("user_id", principal.ID()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	principal.LoadAccess(grant.Roles, grant.Permissions)
	return nil
}

// Invalidate drops the cached grant for the given user so the next lookup
// refetches. Call it when a role assignment changes out of band.
func (c *AccessCache) Invalidate(ctx context.Context, userID string) error {
	if userID == "" {
		return mserr.New(mserr.CodeValidation, "auth: user ID must not be empty")
	}
	return c.cache.Delete(ctx, accessKeyPrefix+userID)
}
