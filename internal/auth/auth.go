// Package auth verifies the credentials of requests to routes that require
// authorization.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/event"
)

// Public messages of authorization failures
const (
	MsgNoAuthorizationHeader = "No authorization header provided."
	MsgInvalidHeaderFormat   = "Invalid authorization header format. Expected: Bearer <token>"
	MsgTokenNotValid         = "Token not valid."
	MsgTokenExpired          = "Session token is expired."
)

// Authorizer checks the credentials of a request and returns the verified claims
type Authorizer interface {
	Authorize(ctx context.Context, req *event.Request) (jwt.MapClaims, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface
type AuthorizerFunc func(ctx context.Context, req *event.Request) (jwt.MapClaims, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, req *event.Request) (jwt.MapClaims, error) {
	return f(ctx, req)
}

// BearerToken extracts the token of a "Bearer <token>" authorization header.
// The scheme is matched case-insensitively.
func BearerToken(req *event.Request) (string, error) {
	header := strings.TrimSpace(req.Header("Authorization"))
	if header == "" {
		return "", apierr.NewUnauthorized(MsgNoAuthorizationHeader)
	}

	scheme, token, ok := strings.Cut(header, " ")
	token = strings.TrimSpace(token)
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", apierr.NewUnauthorized(MsgInvalidHeaderFormat)
	}
	return token, nil
}

// BearerPresence only requires a bearer token to be present. It is the
// authorizer used when no verifier is configured; it returns no claims.
var BearerPresence Authorizer = AuthorizerFunc(func(ctx context.Context, req *event.Request) (jwt.MapClaims, error) {
	if _, err := BearerToken(req); err != nil {
		return nil, err
	}
	return jwt.MapClaims{}, nil
})

// tokenError maps a token parse failure to the public error. An expired token
// is forbidden, anything else is unauthorized.
func tokenError(err error) error {
	if errors.Is(err, jwt.ErrTokenExpired) {
		return apierr.Wrap(apierr.KindAuthentication, http.StatusForbidden, MsgTokenExpired, err)
	}
	return apierr.Wrap(apierr.KindAuthentication, http.StatusUnauthorized, MsgTokenNotValid, err)
}

func parserOptions(methods []string, issuer, audience string) []jwt.ParserOption {
	opts := []jwt.ParserOption{jwt.WithValidMethods(methods)}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	return opts
}
