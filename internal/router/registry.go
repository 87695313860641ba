package router

import (
	"fmt"
	"strings"
	"sync"

	"lambda-route-proxy/internal/chain"
)

// Registry maps handler identifiers to chain modules. Keys keep their
// registration order, which decides suffix lookups.
type Registry struct {
	mu      sync.RWMutex
	keys    []string
	modules map[string]*chain.Module
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{modules: make(map[string]*chain.Module)}
}

// Register binds key to module
func (r *Registry) Register(key string, module chain.Module) error {
	if key == "" {
		return fmt.Errorf("handler key must not be empty")
	}
	if len(module.Chain) == 0 {
		return fmt.Errorf("handler %q: chain must not be empty", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[key]; exists {
		return fmt.Errorf("handler %q already registered", key)
	}
	m := module
	r.keys = append(r.keys, key)
	r.modules[key] = &m
	return nil
}

// MustRegister is like Register but panics on error
func (r *Registry) MustRegister(key string, module chain.Module) *Registry {
	if err := r.Register(key, module); err != nil {
		panic(err)
	}
	return r
}

// Lookup finds the module for a handler path: an exact key first, then the
// first registered key that is a suffix of the path.
func (r *Registry) Lookup(handlerPath string) (*chain.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.modules[handlerPath]; ok {
		return m, true
	}
	for _, key := range r.keys {
		if strings.HasSuffix(handlerPath, key) {
			return r.modules[key], true
		}
	}
	return nil, false
}

// Keys returns the registered keys in registration order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.keys...)
}
