// Package lambda runs a dispatcher inside the AWS Lambda runtime.
package lambda

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/lambda"

	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/router"
	"lambda-route-proxy/pkg/server"
)

// ErrRuntimeClosed is returned by invocations after Cleanup
var ErrRuntimeClosed = errors.New("lambda runtime: closed")

// Runtime keeps the dispatcher container alive across warm invocations. The
// container is built on the first invocation.
type Runtime struct {
	registry *router.Registry
	options  []server.Option
	load     func() (*config.Config, error)

	initOnce  sync.Once
	mu        sync.RWMutex
	container *server.Container
	initErr   error
	lastUsed  time.Time
}

// NewRuntime creates a runtime for the chains in registry
func NewRuntime(registry *router.Registry, opts ...server.Option) *Runtime {
	return &Runtime{
		registry: registry,
		options:  opts,
		load:     config.GetOptimizedConfig,
	}
}

// Container returns the dispatcher container, building it on first use. A
// failed build is not retried: the configuration will not change while the
// execution environment lives.
func (r *Runtime) Container() (*server.Container, error) {
	r.initOnce.Do(func() {
		cfg, err := r.load()
		if err != nil {
			r.initErr = err
			return
		}

		// The container outlives the invocation that builds it, so it must not
		// inherit the invocation's context.
		container, err := server.NewContainer(context.Background(), cfg, r.registry, r.options...)

		r.mu.Lock()
		defer r.mu.Unlock()
		r.container = container
		r.initErr = err
		r.lastUsed = time.Now()
	})

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.container, r.initErr
}

// Handler is the Lambda entry point. It accepts both payload versions.
func (r *Runtime) Handler(ctx context.Context, raw json.RawMessage) (any, error) {
	container, err := r.Container()
	if err != nil {
		return nil, err
	}
	r.UpdateLastUsed()
	return container.Dispatcher.Handle(ctx, raw)
}

// IsHealthy reports whether the container is built and was used recently
func (r *Runtime) IsHealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.container == nil {
		return false
	}
	return time.Since(r.lastUsed) < 5*time.Minute
}

// UpdateLastUsed updates the last used timestamp
func (r *Runtime) UpdateLastUsed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastUsed = time.Now()
}

// Cleanup releases the container resources. Invocations after Cleanup fail
// with ErrRuntimeClosed.
func (r *Runtime) Cleanup() error {
	r.initOnce.Do(func() {})

	r.mu.Lock()
	defer r.mu.Unlock()

	r.initErr = ErrRuntimeClosed
	if r.container == nil {
		return nil
	}
	err := r.container.Close()
	r.container = nil
	return err
}

// Start runs the dispatcher for registry in the Lambda runtime. It does not
// return.
func Start(registry *router.Registry, opts ...server.Option) {
	rt := NewRuntime(registry, opts...)
	lambda.StartWithOptions(rt.Handler, lambda.WithEnableSIGTERM(func() {
		_ = rt.Cleanup()
	}))
}
