package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/event"
)

// JWKSConfig holds the settings of a verifier backed by a remote key set
type JWKSConfig struct {
	URL             string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
	HTTPClient      *http.Client
	Retry           *RetryConfig // Key set fetch retries, DefaultRetryConfig when nil
}

// JWKSAuthorizer verifies RS256/ES256 tokens against a cached JWKS. Keys are
// selected by the token's kid header.
type JWKSAuthorizer struct {
	config JWKSConfig
	cache  *jwk.Cache
	parser *jwt.Parser
	cancel context.CancelFunc
}

// NewJWKSAuthorizer registers the key set URL with a refreshing cache. Keys are
// fetched on first use.
func NewJWKSAuthorizer(ctx context.Context, config JWKSConfig) (*JWKSAuthorizer, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("jwks authorizer: url is required")
	}
	if config.RefreshInterval == 0 {
		config.RefreshInterval = 15 * time.Minute
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 5 * time.Second}
	}
	if config.Retry == nil {
		config.Retry = DefaultRetryConfig()
	}

	cacheCtx, cancel := context.WithCancel(ctx)
	cache := jwk.NewCache(cacheCtx)
	if err := cache.Register(config.URL,
		jwk.WithMinRefreshInterval(config.RefreshInterval),
		jwk.WithHTTPClient(config.HTTPClient),
	); err != nil {
		cancel()
		return nil, fmt.Errorf("jwks authorizer: failed to register %s: %w", config.URL, err)
	}

	return &JWKSAuthorizer{
		config: config,
		cache:  cache,
		parser: jwt.NewParser(parserOptions([]string{"RS256", "ES256"}, config.Issuer, config.Audience)...),
		cancel: cancel,
	}, nil
}

// Authorize validates the bearer token and returns its claims
func (a *JWKSAuthorizer) Authorize(ctx context.Context, req *event.Request) (jwt.MapClaims, error) {
	raw, err := BearerToken(req)
	if err != nil {
		return nil, err
	}

	var keys jwk.Set
	err = WithRetry(ctx, a.config.Retry, func(ctx context.Context) error {
		set, err := a.cache.Get(ctx, a.config.URL)
		if err != nil {
			return err
		}
		keys = set
		return nil
	})
	if err != nil {
		return nil, apierr.Wrap(apierr.KindUnclassified, http.StatusInternalServerError, "Unable to load token signing keys", err)
	}

	keyfunc := func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("missing kid")
		}
		key, ok := keys.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		var pub interface{}
		if err := key.Raw(&pub); err != nil {
			return nil, fmt.Errorf("bad jwk: %w", err)
		}
		return pub, nil
	}

	claims := jwt.MapClaims{}
	if _, err := a.parser.ParseWithClaims(raw, claims, keyfunc); err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
			"path":  req.RawPath,
		}).Warn("Token validation failed")
		return nil, tokenError(err)
	}

	return claims, nil
}

// Close stops the background key refresh
func (a *JWKSAuthorizer) Close() error {
	a.cancel()
	return nil
}
