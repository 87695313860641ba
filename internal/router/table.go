// Package router holds the route table: path templates, the handler each
// entry is bound to and the per-route authorization decision.
package router

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/chain"
	"lambda-route-proxy/internal/security"
)

// Entry is one configured route
type Entry struct {
	Method              string `json:"method" yaml:"method" validate:"required,oneof=ANY GET HEAD POST PUT PATCH DELETE OPTIONS"`
	Path                string `json:"path" yaml:"path" validate:"required,startswith=/"`
	Handler             string `json:"handlerPath" yaml:"handlerPath" validate:"required"`
	AuthorizeRoute      *bool  `json:"authorizeRoute,omitempty" yaml:"authorizeRoute,omitempty"`
	Description         string `json:"description,omitempty" yaml:"description,omitempty"`
	FunctionName        string `json:"functionName,omitempty" yaml:"functionName,omitempty"`
	GenerateOpenAPIDocs *bool  `json:"generateOpenApiDocs,omitempty" yaml:"generateOpenApiDocs,omitempty"`
}

// Config is the declarative route configuration
type Config struct {
	AuthorizeAllRoutes bool             `json:"authorizeAllRoutes" yaml:"authorizeAllRoutes"`
	Routes             []Entry          `json:"routes" yaml:"routes" validate:"dive"`
	Security           *security.Policy `json:"-" yaml:"-"`
}

// Route is an entry with its compiled pattern and bound module
type Route struct {
	Entry
	method  Method
	pattern *Pattern
	module  *chain.Module
}

// Module returns the chain bound to the route, nil when none was registered
func (r *Route) Module() *chain.Module {
	return r.module
}

// Pattern returns the compiled path template
func (r *Route) Pattern() *Pattern {
	return r.pattern
}

// Key renders the route as an API Gateway route key
func (r *Route) Key() string {
	return fmt.Sprintf("%s %s", r.method, r.Path)
}

// Table is the immutable, ordered route table
type Table struct {
	authorizeAll bool
	routes       []*Route
	security     *security.Policy
}

var validate = validator.New()

// NewTable validates cfg, compiles every path template and binds each entry to
// its module in reg. Entries without a module are kept and fail at dispatch time.
func NewTable(cfg Config, reg *Registry, log logrus.FieldLogger) (*Table, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if reg == nil {
		reg = NewRegistry()
	}

	for i := range cfg.Routes {
		cfg.Routes[i].Method = strings.ToUpper(strings.TrimSpace(cfg.Routes[i].Method))
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, apierr.NewConfiguration("invalid route configuration", err)
	}

	t := &Table{
		authorizeAll: cfg.AuthorizeAllRoutes,
		routes:       make([]*Route, 0, len(cfg.Routes)),
		security:     cfg.Security,
	}
	seen := make(map[string]bool, len(cfg.Routes))

	for _, entry := range cfg.Routes {
		key := entry.Method + " " + strings.ToLower(entry.Path)
		if seen[key] {
			return nil, apierr.NewConfiguration(fmt.Sprintf("duplicate route %s %s", entry.Method, entry.Path), nil)
		}
		seen[key] = true

		pattern, err := Compile(entry.Path)
		if err != nil {
			return nil, apierr.NewConfiguration("invalid route path", err)
		}
		method, err := ParseMethod(entry.Method)
		if err != nil {
			return nil, apierr.NewConfiguration("invalid route method", err)
		}

		route := &Route{Entry: entry, method: method, pattern: pattern}
		if m, ok := reg.Lookup(entry.Handler); ok {
			route.module = m
		} else {
			log.WithFields(logrus.Fields{
				"route":   route.Key(),
				"handler": entry.Handler,
			}).Warn("No handler chain registered for route")
		}
		t.routes = append(t.routes, route)
	}

	return t, nil
}

// Resolve finds the entry for a method and a route template. Both compare
// case-insensitively; an ANY entry answers to every method.
func (t *Table) Resolve(method, path string) (*Route, bool) {
	for _, r := range t.routes {
		if r.method.Matches(method) && strings.EqualFold(r.Path, path) {
			return r, true
		}
	}
	return nil, false
}

// Match finds the first entry, in table order, whose method and pattern match
// a concrete path. It satisfies event.Matcher.
func (t *Table) Match(method, rawPath string) (string, map[string]string, bool) {
	for _, r := range t.routes {
		if !r.method.Matches(method) {
			continue
		}
		if params, ok := r.pattern.Match(rawPath); ok {
			return r.Path, params, true
		}
	}
	return "", nil, false
}

// RequiresAuth decides whether a route needs authorization. An explicit
// per-route value wins over the table-wide default.
func (t *Table) RequiresAuth(r *Route) bool {
	if r == nil {
		return t.authorizeAll
	}
	if r.AuthorizeRoute != nil {
		return *r.AuthorizeRoute
	}
	return t.authorizeAll
}

// Security returns the policy configured with the table, nil when unset
func (t *Table) Security() *security.Policy {
	return t.security
}

// Routes returns the routes in table order
func (t *Table) Routes() []*Route {
	return append([]*Route(nil), t.routes...)
}
