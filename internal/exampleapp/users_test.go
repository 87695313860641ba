package exampleapp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/config"
	"lambda-route-proxy/internal/dispatch"
	"lambda-route-proxy/internal/router"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	routes, err := config.LoadRouteConfig("../../routes.yaml")
	if err != nil {
		t.Fatalf("LoadRouteConfig failed: %v", err)
	}
	table, err := router.NewTable(routes, NewRegistry(NewStore(), config.RateLimitConfig{RequestsPerSecond: 100, Burst: 100}), logger)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	for _, route := range table.Routes() {
		if route.Module() == nil {
			t.Errorf("route %s has no module", route.Key())
		}
	}

	d, err := dispatch.New(table, dispatch.Options{Logger: logger})
	if err != nil {
		t.Fatalf("dispatch.New failed: %v", err)
	}
	return d
}

func v1(method, path, body string, headers map[string]string) events.APIGatewayProxyRequest {
	return events.APIGatewayProxyRequest{HTTPMethod: method, Path: path, Body: body, Headers: headers}
}

func TestGetUser(t *testing.T) {
	d := newDispatcher(t)

	resp, _ := d.HandleV1(context.Background(), v1("GET", "/users/42", "", nil))
	if resp.StatusCode != http.StatusOK || resp.Body != `{"id":"42"}` {
		t.Errorf("got %d %s", resp.StatusCode, resp.Body)
	}
	if resp.Headers["X-Request-ID"] == "" {
		t.Error("request id header missing")
	}
}

func TestCreateThenGetUser(t *testing.T) {
	d := newDispatcher(t)
	headers := map[string]string{"Content-Type": "application/json"}

	resp, _ := d.HandleV1(context.Background(), v1("POST", "/users", `{"name":"Ada","email":"ada@example.com"}`, headers))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d (%s)", resp.StatusCode, resp.Body)
	}
	var created User
	if err := json.Unmarshal([]byte(resp.Body), &created); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if resp.Headers["Location"] != "/users/"+created.ID {
		t.Errorf("Location = %q", resp.Headers["Location"])
	}

	resp, _ = d.HandleV1(context.Background(), v1("GET", "/users/"+created.ID, "", nil))
	var fetched User
	if err := json.Unmarshal([]byte(resp.Body), &fetched); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if fetched.Email != "ada@example.com" {
		t.Errorf("fetched %+v", fetched)
	}

	resp, _ = d.HandleV1(context.Background(), v1("POST", "/users", `{"name":"Ada","email":"nope"}`, headers))
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid email status = %d", resp.StatusCode)
	}

	resp, _ = d.HandleV1(context.Background(), v1("POST", "/users", `<user/>`, map[string]string{"Content-Type": "application/xml"}))
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("xml status = %d", resp.StatusCode)
	}
}

func TestMeRequiresToken(t *testing.T) {
	d := newDispatcher(t)

	resp, _ := d.HandleV1(context.Background(), v1("GET", "/users/me", "", nil))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status without token = %d", resp.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":            "user-1",
		"email":          "ada@example.com",
		"email_verified": true,
		"exp":            time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("test"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	resp, _ = d.HandleV1(context.Background(), v1("GET", "/users/me", "", map[string]string{"Authorization": "Bearer " + signed}))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d (%s)", resp.StatusCode, resp.Body)
	}
	if resp.Headers["Cache-Control"] != "private, no-store" {
		t.Errorf("Cache-Control = %q", resp.Headers["Cache-Control"])
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(resp.Body), &body); err != nil || body["email"] != "ada@example.com" {
		t.Errorf("body = %s", resp.Body)
	}
}
