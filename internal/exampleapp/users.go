// Package exampleapp is a small users API built on the dispatcher. It backs
// the example Lambda and the dev server.
package exampleapp

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/chain"
	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/middleware"
	"lambda-route-proxy/internal/router"
)

// Handler identifiers referenced by the route table
const (
	HandlerHealth     = "health"
	HandlerGetUser    = "users/get"
	HandlerCreateUser = "users/create"
	HandlerMe         = "users/me"
)

// CreateUserRequest is the body of POST /users
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,min=1,max=100"`
	Email string `json:"email" validate:"required,email"`
}

// User is returned by the users endpoints
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

var userIDSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"id": map[string]any{"type": "string", "minLength": 1, "maxLength": 64},
	},
	"required": []any{"id"},
}

// Store keeps created users in memory
type Store struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{users: make(map[string]User)}
}

func (s *Store) put(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// NewRegistry registers the example modules
func NewRegistry(store *Store, limits config.RateLimitConfig) *router.Registry {
	if store == nil {
		store = NewStore()
	}
	v := validator.New()

	return router.NewRegistry().
		MustRegister(HandlerHealth, chain.Module{
			Chain: []chain.Step{
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					return chain.Response{
						StatusCode: http.StatusOK,
						Body: map[string]any{
							"status":    "healthy",
							"timestamp": time.Now().UTC(),
						},
					}, nil
				}),
			},
		}).
		MustRegister(HandlerGetUser, chain.Module{
			Chain: []chain.Step{
				middleware.RequestID(),
				middleware.CorrelationID(),
				middleware.Logging(nil, HandlerGetUser),
				middleware.MustSchemaValidation(chain.Schema{Params: userIDSchema}),
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					id := args.Params["id"]
					if u, ok := store.get(id); ok {
						return chain.Response{StatusCode: http.StatusOK, Body: u}, nil
					}
					return chain.Response{StatusCode: http.StatusOK, Body: map[string]string{"id": id}}, nil
				}),
			},
			Schema: chain.Schema{Params: userIDSchema},
		}).
		MustRegister(HandlerCreateUser, chain.Module{
			Chain: []chain.Step{
				middleware.RequestID(),
				middleware.Logging(nil, HandlerCreateUser),
				middleware.RateLimit(limits.RequestsPerSecond, limits.Burst),
				middleware.ContentType(),
				middleware.RequestSizeLimit(64 << 10),
				middleware.ValidateBody[CreateUserRequest](v, "user"),
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					req, ok := args.RouteData.Extra["user"].(CreateUserRequest)
					if !ok {
						return chain.Response{}, apierr.NewHandlerInvariant("validated body missing")
					}
					u := User{
						ID:        uuid.New().String(),
						Name:      req.Name,
						Email:     req.Email,
						CreatedAt: time.Now().UTC(),
					}
					store.put(u)
					return chain.Response{
						StatusCode: http.StatusCreated,
						Body:       u,
						Headers:    map[string]string{"Location": "/users/" + u.ID},
					}, nil
				}),
			},
		}).
		MustRegister(HandlerMe, chain.Module{
			Chain: []chain.Step{
				middleware.RequestID(),
				middleware.JWTValidation(),
				middleware.SecurityHeaders(chain.SecurityHeaders{ReferrerPolicy: "no-referrer"}),
				middleware.CacheControl(0, chain.CacheOptions{Private: true, NoStore: true}),
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					claims := args.RouteData.Claims
					return chain.Response{
						StatusCode: http.StatusOK,
						Body: map[string]any{
							"email": claims["email"],
							"sub":   claims["sub"],
						},
					}, nil
				}),
			},
		})
}
