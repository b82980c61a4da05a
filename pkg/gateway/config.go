package gateway

import (
	"strings"
	"time"

	mserr "github.com/KroderDev/go-microservice-core/pkg/errors"
)

// Config holds the configuration for [Client].
type Config struct {
	// BaseURL is the root URL of the API gateway, without a trailing
	// slash. Required.
	BaseURL string `json:"base_url" env:"GATEWAY_BASE_URL" required:"true"`

	// Timeout bounds each HTTP request to the gateway. Defaults to 5
	// seconds.
	Timeout time.Duration `json:"timeout" env:"GATEWAY_TIMEOUT" envDefault:"5s"`

	// RetryCount is how many additional attempts are made for idempotent
	// (GET) requests after a transport failure or 5xx response. Write
	// requests are never retried. Defaults to 2.
	RetryCount int `json:"retry_count" env:"GATEWAY_RETRY_COUNT" envDefault:"2"`

	// RetryBackoff is the pause between retry attempts. Defaults to
	// 200ms.
	RetryBackoff time.Duration `json:"retry_backoff" env:"GATEWAY_RETRY_BACKOFF" envDefault:"200ms"`

	// MeCacheTTL caps how long a profile response is cached. The
	// effective TTL for one token is the minimum of this value and the
	// token's remaining lifetime, so a cached profile never outlives the
	// token it belongs to. Defaults to 5 minutes.
	MeCacheTTL time.Duration `json:"me_cache_ttl" env:"GATEWAY_ME_CACHE_TTL" envDefault:"5m"`

	// LoginPath is the login endpoint path. Defaults to
	// "/api/auth/login".
	LoginPath string `json:"login_path" env:"GATEWAY_LOGIN_PATH" envDefault:"/api/auth/login"`

	// RefreshPath is the token refresh endpoint path. Defaults to
	// "/api/auth/refresh".
	RefreshPath string `json:"refresh_path" env:"GATEWAY_REFRESH_PATH" envDefault:"/api/auth/refresh"`

	// MePath is the current-user profile endpoint path. Defaults to
	// "/api/auth/me".
	MePath string `json:"me_path" env:"GATEWAY_ME_PATH" envDefault:"/api/auth/me"`

	// AccessPath is the per-user access endpoint path. The "{id}"
	// placeholder is replaced with the URL-escaped user ID. Defaults to
	// "/api/users/{id}/access".
	AccessPath string `json:"access_path" env:"GATEWAY_ACCESS_PATH" envDefault:"/api/users/{id}/access"`
}

// Validate checks the configuration for logical correctness and returns a
// *[mserr.Error] if any field is invalid.
func (c *Config) Validate() *mserr.Error {
	if c.BaseURL == "" {
		return mserr.New(mserr.CodeInternalConfiguration, "gateway: base URL must not be empty")
	}
	if !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		return mserr.New(mserr.CodeInternalConfiguration, "gateway: base URL must use http or https")
	}
	if c.Timeout <= 0 {
		return mserr.New(mserr.CodeValidation, "gateway: timeout must be positive")
	}
	if c.RetryCount < 0 {
		return mserr.New(mserr.CodeValidation, "gateway: retry count must be non-negative")
	}
	if c.RetryBackoff < 0 {
		return mserr.New(mserr.CodeValidation, "gateway: retry backoff must be non-negative")
	}
	if c.MeCacheTTL < 0 {
		return mserr.New(mserr.CodeValidation, "gateway: me cache TTL must be non-negative")
	}
	return nil
}

// DefaultConfig returns a Config with the package defaults. BaseURL must
// still be set before the config passes validation.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		RetryCount:   2,
		RetryBackoff: 200 * time.Millisecond,
		MeCacheTTL:   5 * time.Minute,
		LoginPath:    "/api/auth/login",
		RefreshPath:  "/api/auth/refresh",
		MePath:       "/api/auth/me",
		AccessPath:   "/api/users/{id}/access",
	}
}

// applyDefaults fills unset fields so a hand-built Config behaves like one
// loaded through the config package.
func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.Timeout == 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = def.RetryBackoff
	}
	if c.MeCacheTTL == 0 {
		c.MeCacheTTL = def.MeCacheTTL
	}
	if c.LoginPath == "" {
		c.LoginPath = def.LoginPath
	}
	if c.RefreshPath == "" {
		c.RefreshPath = def.RefreshPath
	}
	if c.MePath == "" {
		c.MePath = def.MePath
	}
	if c.AccessPath == "" {
		c.AccessPath = def.AccessPath
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
}
