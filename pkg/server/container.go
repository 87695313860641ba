package server

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/auth"
	"lambda-route-proxy/internal/chain"
	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/dispatch"
	"lambda-route-proxy/internal/event"
	"lambda-route-proxy/internal/router"
)

// Container holds all runtime dependencies of the dispatcher
type Container struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Registry   *router.Registry
	Table      *router.Table
	Authorizer auth.Authorizer
	Dispatcher *dispatch.Dispatcher

	// Internal dependencies
	closers []func() error
}

// Option customizes how a container is built
type Option func(*options)

type options struct {
	routes     *router.Config
	logger     *logrus.Logger
	authorizer auth.Authorizer
	notFound   *chain.Module
	onError    func(ctx context.Context, req *event.Request, err error)
}

// WithRoutes uses cfg instead of reading the configured routes file
func WithRoutes(cfg router.Config) Option {
	return func(o *options) { o.routes = &cfg }
}

// WithLogger replaces the logger built from the configuration
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithAuthorizer replaces the authorizer selected by the configuration
func WithAuthorizer(a auth.Authorizer) Option {
	return func(o *options) { o.authorizer = a }
}

// WithNotFound sets the module run for requests that match no route
func WithNotFound(m *chain.Module) Option {
	return func(o *options) { o.notFound = m }
}

// WithErrorHook sets a function called with every dispatch failure
func WithErrorHook(fn func(ctx context.Context, req *event.Request, err error)) Option {
	return func(o *options) { o.onError = fn }
}

// NewContainer wires configuration, route table, security policy, authorizer
// and dispatcher. Every configuration problem surfaces here, before the first
// request is served.
func NewContainer(ctx context.Context, cfg *config.Config, registry *router.Registry, opts ...Option) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("container requires a configuration")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		logger = config.NewLogger(cfg.Log)
	}
	if registry == nil {
		registry = router.NewRegistry()
	}

	var routes router.Config
	if o.routes != nil {
		routes = *o.routes
	} else {
		loaded, err := config.LoadRouteConfig(cfg.RoutesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
		routes = loaded
	}

	if routes.Security == nil {
		policy, _, err := config.LoadSecurityPolicy(cfg.SecurityConfigDir, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to load security policy: %w", err)
		}
		routes.Security = &policy
	}

	table, err := router.NewTable(routes, registry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build route table: %w", err)
	}

	container := &Container{
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Table:    table,
	}

	container.Authorizer = o.authorizer
	if container.Authorizer == nil {
		authorizer, closer, err := newAuthorizer(ctx, cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to create authorizer: %w", err)
		}
		container.Authorizer = authorizer
		if closer != nil {
			container.closers = append(container.closers, closer)
		}
	}

	dispatcher, err := dispatch.New(table, dispatch.Options{
		Authorizer: container.Authorizer,
		Logger:     logger,
		NotFound:   o.notFound,
		OnError:    o.onError,
	})
	if err != nil {
		container.Close()
		return nil, fmt.Errorf("failed to create dispatcher: %w", err)
	}
	container.Dispatcher = dispatcher

	logger.WithFields(logrus.Fields{
		"routes":     len(table.Routes()),
		"handlers":   len(registry.Keys()),
		"authorizer": cfg.Auth.Authorizer,
		"mode":       config.GetDeploymentMode(),
		"stage":      cfg.Stage,
	}).Info("Dispatcher initialized")

	return container, nil
}

// newAuthorizer builds the authorizer named by the configuration. Without a
// verifier, routes that require authorization only need a bearer token.
func newAuthorizer(ctx context.Context, cfg config.AuthConfig) (auth.Authorizer, func() error, error) {
	switch cfg.Authorizer {
	case config.AuthorizerHMAC:
		a, err := auth.NewHMACAuthorizer(auth.HMACConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.Issuer,
			Audience: cfg.Audience,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, nil, nil
	case config.AuthorizerJWKS:
		a, err := auth.NewJWKSAuthorizer(ctx, auth.JWKSConfig{
			URL:             cfg.JWKSURL,
			Issuer:          cfg.Issuer,
			Audience:        cfg.Audience,
			RefreshInterval: cfg.JWKSRefresh,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, a.Close, nil
	case config.AuthorizerNone, "":
		return auth.BearerPresence, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown authorizer %q", cfg.Authorizer)
	}
}

// Close cleans up all resources
func (c *Container) Close() error {
	var firstErr error
	for _, closer := range c.closers {
		if err := closer(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close resource: %w", err)
		}
	}
	c.closers = nil
	return firstErr
}
