package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/auth"
	"lambda-route-proxy/internal/chain"
	"lambda-route-proxy/internal/event"
	"lambda-route-proxy/internal/router"
	"lambda-route-proxy/internal/security"
)

const origin = "https://app.xorbit.dev"

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func boolPtr(b bool) *bool { return &b }

func testPolicy() *security.Policy {
	p := security.DefaultPolicy()
	p.CORS.AllowOrigins = []string{origin}
	p.CORS.AllowCredentials = true
	return &p
}

var getUser = chain.Module{
	Chain: []chain.Step{
		chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
			return chain.Response{StatusCode: http.StatusOK, Body: map[string]string{"id": args.Params["id"]}}, nil
		}),
	},
}

func newDispatcher(t *testing.T, cfg router.Config, reg *router.Registry, opts Options) *Dispatcher {
	t.Helper()
	log := quietLogger()
	table, err := router.NewTable(cfg, reg, log)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if opts.Logger == nil {
		opts.Logger = log
	}
	d, err := New(table, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return d
}

func usersDispatcher(t *testing.T, opts Options) *Dispatcher {
	return newDispatcher(t, router.Config{
		Routes: []router.Entry{
			{Method: "GET", Path: "/users/{id}", Handler: "users/get"},
		},
		Security: testPolicy(),
	}, router.NewRegistry().MustRegister("users/get", getUser), opts)
}

func v2Request(method, routeKey, rawPath string) events.APIGatewayV2HTTPRequest {
	req := events.APIGatewayV2HTTPRequest{
		Version:  "2.0",
		RouteKey: routeKey,
		RawPath:  rawPath,
		Headers:  map[string]string{"origin": origin},
	}
	req.RequestContext.HTTP.Method = method
	req.RequestContext.HTTP.Path = rawPath
	req.RequestContext.RequestID = "req-1"
	return req
}

func v1Request(method, path string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{
		HTTPMethod: method,
		Path:       path,
		Headers:    map[string]string{"Origin": origin},
	}
}

func TestHandleV2EndToEnd(t *testing.T) {
	d := usersDispatcher(t, Options{})

	req := v2Request("GET", "GET /users/{id}", "/users/42")
	req.PathParameters = map[string]string{"id": "42"}
	resp, err := d.HandleV2(context.Background(), req)
	if err != nil {
		t.Fatalf("HandleV2 returned error: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %s", resp.StatusCode, resp.Body)
	}
	if resp.Body != `{"id":"42"}` {
		t.Errorf("body = %s", resp.Body)
	}
	want := map[string]string{
		"Content-Type":                     "application/json",
		"X-Frame-Options":                  "DENY",
		"Access-Control-Allow-Origin":      origin,
		"Access-Control-Allow-Credentials": "true",
		"Vary":                             "Origin",
	}
	for k, v := range want {
		if resp.Headers[k] != v {
			t.Errorf("header %s = %q, want %q", k, resp.Headers[k], v)
		}
	}
}

func TestHandleV1MatchesConcretePath(t *testing.T) {
	d := usersDispatcher(t, Options{})

	resp, _ := d.HandleV1(context.Background(), v1Request("GET", "/users/7?verbose=1"))
	if resp.StatusCode != http.StatusOK || resp.Body != `{"id":"7"}` {
		t.Errorf("got %d %s", resp.StatusCode, resp.Body)
	}
}

func TestHandleDetectsPayloadVersion(t *testing.T) {
	d := usersDispatcher(t, Options{})

	out, _ := d.Handle(context.Background(), json.RawMessage(`{"httpMethod":"GET","path":"/users/3","headers":{},"requestContext":{"httpMethod":"GET"}}`))
	v1, ok := out.(events.APIGatewayProxyResponse)
	if !ok {
		t.Fatalf("expected a v1 response, got %T", out)
	}
	if v1.Body != `{"id":"3"}` {
		t.Errorf("v1 body = %s", v1.Body)
	}

	out, _ = d.Handle(context.Background(), json.RawMessage(`{"version":"2.0","routeKey":"$default","rawPath":"/users/4","requestContext":{"http":{"method":"GET","path":"/users/4"}}}`))
	v2, ok := out.(events.APIGatewayV2HTTPResponse)
	if !ok {
		t.Fatalf("expected a v2 response, got %T", out)
	}
	if v2.Body != `{"id":"4"}` {
		t.Errorf("v2 body = %s", v2.Body)
	}

	out, _ = d.Handle(context.Background(), json.RawMessage(`{"resource":"/users/{id}","path":"/users/5","requestContext":{"httpMethod":"GET"}}`))
	ctxOnly, ok := out.(events.APIGatewayProxyResponse)
	if !ok {
		t.Fatalf("expected a v1 response, got %T", out)
	}
	if ctxOnly.StatusCode != http.StatusOK || ctxOnly.Body != `{"id":"5"}` {
		t.Errorf("method from request context: got %d %s", ctxOnly.StatusCode, ctxOnly.Body)
	}

	out, _ = d.Handle(context.Background(), json.RawMessage(`[1,2,3]`))
	bad, ok := out.(events.APIGatewayProxyResponse)
	if !ok || bad.StatusCode != http.StatusBadRequest {
		t.Errorf("undecodable event: got %#v", out)
	}
}

func TestResponseHeaderPrecedence(t *testing.T) {
	reg := router.NewRegistry().MustRegister("frames", chain.Module{
		Chain: []chain.Step{
			chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
				return chain.AddResponseHeader(args, "X-Frame-Options", "SAMEORIGIN"), nil
			}),
			chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
				return chain.Response{
					StatusCode: http.StatusCreated,
					Body:       "created",
					Headers:    map[string]string{"content-type": "text/plain"},
				}, nil
			}),
		},
	})
	d := newDispatcher(t, router.Config{
		Routes:   []router.Entry{{Method: "POST", Path: "/frames", Handler: "frames"}},
		Security: testPolicy(),
	}, reg, Options{})

	resp, _ := d.HandleV2(context.Background(), v2Request("POST", "POST /frames", "/frames"))
	if resp.StatusCode != http.StatusCreated || resp.Body != "created" {
		t.Fatalf("got %d %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers["X-Frame-Options"] != "SAMEORIGIN" {
		t.Errorf("accumulated header should override the policy default, got %q", resp.Headers["X-Frame-Options"])
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Errorf("terminal header should win: %v", resp.Headers)
	}
	if _, dup := resp.Headers["Content-Type"]; dup {
		t.Errorf("overridden header kept its old spelling: %v", resp.Headers)
	}
}

func TestAuthorizationTriState(t *testing.T) {
	reg := router.NewRegistry().
		MustRegister("open", getUser).
		MustRegister("closed", getUser)

	tests := []struct {
		name         string
		authorizeAll bool
		routeAuth    *bool
		header       string
		wantStatus   int
	}{
		{name: "default off", wantStatus: http.StatusOK},
		{name: "all on, no token", authorizeAll: true, wantStatus: http.StatusUnauthorized},
		{name: "all on, token", authorizeAll: true, header: "Bearer abc", wantStatus: http.StatusOK},
		{name: "all on, route off", authorizeAll: true, routeAuth: boolPtr(false), wantStatus: http.StatusOK},
		{name: "all off, route on", routeAuth: boolPtr(true), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newDispatcher(t, router.Config{
				AuthorizeAllRoutes: tt.authorizeAll,
				Routes: []router.Entry{
					{Method: "GET", Path: "/users/{id}", Handler: "open", AuthorizeRoute: tt.routeAuth},
				},
			}, reg, Options{})

			req := v2Request("GET", "GET /users/{id}", "/users/1")
			req.PathParameters = map[string]string{"id": "1"}
			if tt.header != "" {
				req.Headers["authorization"] = tt.header
			}
			resp, _ := d.HandleV2(context.Background(), req)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Body)
			}
		})
	}
}

func TestAuthorizerClaimsReachTheChain(t *testing.T) {
	var seen jwt.MapClaims
	reg := router.NewRegistry().MustRegister("me", chain.Module{
		Chain: []chain.Step{
			chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
				seen = args.RouteData.Claims
				return chain.Response{StatusCode: http.StatusOK, Body: "ok"}, nil
			}),
		},
	})
	authorizer := auth.AuthorizerFunc(func(ctx context.Context, req *event.Request) (jwt.MapClaims, error) {
		return jwt.MapClaims{"sub": "user-1"}, nil
	})
	d := newDispatcher(t, router.Config{
		AuthorizeAllRoutes: true,
		Routes:             []router.Entry{{Method: "GET", Path: "/me", Handler: "me"}},
	}, reg, Options{Authorizer: authorizer})

	d.HandleV2(context.Background(), v2Request("GET", "GET /me", "/me"))
	if seen["sub"] != "user-1" {
		t.Errorf("claims = %v", seen)
	}
}

func TestFailureMapping(t *testing.T) {
	reg := router.NewRegistry().
		MustRegister("nobody", chain.Module{
			Chain: []chain.Step{
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					return chain.Response{StatusCode: http.StatusNoContent}, nil
				}),
			},
		}).
		MustRegister("broken", chain.Module{
			Chain: []chain.Step{
				chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
					return args, errors.New("database unreachable")
				}),
			},
		}).
		MustRegister("invalid", chain.Module{
			Chain: []chain.Step{
				chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
					return args, apierr.NewValidation("name is required")
				}),
			},
		})

	d := newDispatcher(t, router.Config{
		Routes: []router.Entry{
			{Method: "GET", Path: "/missing", Handler: "unregistered"},
			{Method: "DELETE", Path: "/items/{id}", Handler: "nobody"},
			{Method: "GET", Path: "/broken", Handler: "broken"},
			{Method: "POST", Path: "/invalid", Handler: "invalid"},
			{Method: "OPTIONS", Path: "/broken", Handler: "broken"},
		},
		Security: testPolicy(),
	}, reg, Options{})

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
		wantBody   string
	}{
		{name: "missing chain", method: "GET", path: "/missing", wantStatus: http.StatusInternalServerError},
		{name: "status without body", method: "DELETE", path: "/items/9", wantStatus: http.StatusInternalServerError},
		{name: "unclassified error", method: "GET", path: "/broken", wantStatus: http.StatusInternalServerError, wantBody: "database unreachable"},
		{name: "validation error", method: "POST", path: "/invalid", wantStatus: http.StatusBadRequest, wantBody: "name is required"},
		{name: "unknown route", method: "GET", path: "/nowhere", wantStatus: http.StatusBadRequest, wantBody: "Route not found: GET /nowhere"},
		{name: "preflight on unknown route", method: "OPTIONS", path: "/nowhere", wantStatus: http.StatusOK},
		{name: "preflight whose chain fails", method: "OPTIONS", path: "/broken", wantStatus: http.StatusOK, wantBody: "database unreachable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := d.HandleV1(context.Background(), v1Request(tt.method, tt.path))
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", resp.StatusCode, tt.wantStatus, resp.Body)
			}
			if tt.wantBody != "" && resp.Body != tt.wantBody {
				t.Errorf("body = %q, want %q", resp.Body, tt.wantBody)
			}
			if resp.Headers["Content-Type"] != "application/json" {
				t.Errorf("Content-Type = %q", resp.Headers["Content-Type"])
			}
			if resp.Headers["Access-Control-Allow-Origin"] != origin {
				t.Errorf("CORS headers missing on failure: %v", resp.Headers)
			}
		})
	}
}

func TestV2ShapingIsLenient(t *testing.T) {
	reg := router.NewRegistry().
		MustRegister("empty", chain.Module{
			Chain: []chain.Step{
				chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
					return chain.Response{StatusCode: http.StatusNoContent}, nil
				}),
			},
		}).
		MustRegister("passthrough", chain.Module{
			Chain: []chain.Step{
				chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
					return args, nil
				}),
			},
		})
	d := newDispatcher(t, router.Config{
		Routes: []router.Entry{
			{Method: "DELETE", Path: "/items/{id}", Handler: "empty"},
			{Method: "POST", Path: "/echo/{id}", Handler: "passthrough"},
		},
	}, reg, Options{})

	req := v2Request("DELETE", "DELETE /items/{id}", "/items/1")
	req.PathParameters = map[string]string{"id": "1"}
	resp, _ := d.HandleV2(context.Background(), req)
	if resp.StatusCode != http.StatusNoContent || resp.Body != "" {
		t.Errorf("got %d %q", resp.StatusCode, resp.Body)
	}

	req = v2Request("POST", "POST /echo/{id}", "/echo/5")
	req.PathParameters = map[string]string{"id": "5"}
	req.RawQueryString = "q=go"
	req.Body = `{"name":"Ada"}`
	resp, _ = d.HandleV2(context.Background(), req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, resp.Body)
	}

	var got struct {
		Params    map[string]string `json:"params"`
		Query     map[string]string `json:"query"`
		Body      map[string]any    `json:"body"`
		RouteData map[string]any    `json:"routeData"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &got); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	if got.Params["id"] != "5" || got.Query["q"] != "go" || got.Body["name"] != "Ada" {
		t.Errorf("unexpected args: %+v", got)
	}
	if got.RouteData["requestId"] != "req-1" {
		t.Errorf("request id missing: %+v", got.RouteData)
	}
}

func TestRotationHeaders(t *testing.T) {
	reg := router.NewRegistry().MustRegister("rotate", chain.Module{
		Chain: []chain.Step{
			chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
				args.RouteData.NeedsJWTRotation = true
				return args, nil
			}),
			chain.Handler(func(ctx context.Context, args chain.Args) (chain.Response, error) {
				return chain.Response{StatusCode: http.StatusOK, Body: "ok"}, nil
			}),
		},
	})
	d := newDispatcher(t, router.Config{
		Routes: []router.Entry{{Method: "GET", Path: "/session", Handler: "rotate"}},
	}, reg, Options{})

	resp, _ := d.HandleV2(context.Background(), v2Request("GET", "GET /session", "/session"))
	if resp.Headers["X-Token-Rotation-Required"] != "true" {
		t.Errorf("rotation header missing: %v", resp.Headers)
	}
	if resp.Headers["X-Token-Rotation-Reason"] != security.RotationReason {
		t.Errorf("rotation reason = %q", resp.Headers["X-Token-Rotation-Reason"])
	}
}

func TestNotFoundModule(t *testing.T) {
	d := usersDispatcher(t, Options{NotFound: NotFoundModule()})

	resp, _ := d.HandleV2(context.Background(), v2Request("GET", "$default", "/nowhere"))
	if resp.StatusCode != http.StatusNotFound || resp.Body != MsgNotFound {
		t.Errorf("got %d %q", resp.StatusCode, resp.Body)
	}

	resp, _ = d.HandleV2(context.Background(), v2Request("OPTIONS", "$default", "/nowhere"))
	if resp.StatusCode != http.StatusOK {
		t.Errorf("preflight status = %d", resp.StatusCode)
	}
	if resp.Headers["Access-Control-Allow-Origin"] != origin {
		t.Errorf("preflight should carry CORS headers: %v", resp.Headers)
	}
}

func TestOnErrorHook(t *testing.T) {
	var hooked error
	d := usersDispatcher(t, Options{
		OnError: func(ctx context.Context, req *event.Request, err error) {
			hooked = err
		},
	})

	d.HandleV2(context.Background(), v2Request("GET", "$default", "/nowhere"))
	if !apierr.IsRouteNotFound(hooked) {
		t.Errorf("hook received %v", hooked)
	}
}

func TestRejectedOriginGetsNoCORSHeaders(t *testing.T) {
	d := usersDispatcher(t, Options{})

	req := v2Request("GET", "GET /users/{id}", "/users/1")
	req.PathParameters = map[string]string{"id": "1"}
	req.Headers["origin"] = "https://evil.example.com"
	resp, _ := d.HandleV2(context.Background(), req)

	for k := range resp.Headers {
		if strings.HasPrefix(k, "Access-Control-") {
			t.Errorf("unexpected CORS header %s", k)
		}
	}
}

func TestNewRejectsInvalidPolicy(t *testing.T) {
	p := security.DefaultPolicy()
	p.CORS.AllowOrigins = []string{security.Wildcard}
	p.CORS.AllowCredentials = true

	table, err := router.NewTable(router.Config{Security: &p}, nil, quietLogger())
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if _, err := New(table, Options{Logger: quietLogger()}); !apierr.IsConfiguration(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
