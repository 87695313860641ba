package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/event"
)

// HMACConfig holds the shared-secret verifier settings
type HMACConfig struct {
	Secret        string
	Issuer        string
	Audience      string
	TokenDuration time.Duration
}

// HMACAuthorizer verifies HS256 tokens signed with a shared secret
type HMACAuthorizer struct {
	config HMACConfig
	parser *jwt.Parser
}

// NewHMACAuthorizer creates a new HMAC authorizer
func NewHMACAuthorizer(config HMACConfig) (*HMACAuthorizer, error) {
	if config.Secret == "" {
		return nil, fmt.Errorf("hmac authorizer: secret is required")
	}
	if config.TokenDuration == 0 {
		config.TokenDuration = time.Hour
	}
	return &HMACAuthorizer{
		config: config,
		parser: jwt.NewParser(parserOptions([]string{"HS256", "HS384", "HS512"}, config.Issuer, config.Audience)...),
	}, nil
}

// Authorize validates the bearer token and returns its claims
func (a *HMACAuthorizer) Authorize(ctx context.Context, req *event.Request) (jwt.MapClaims, error) {
	raw, err := BearerToken(req)
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = a.parser.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(a.config.Secret), nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"error": err.Error(),
			"path":  req.RawPath,
		}).Warn("Token validation failed")
		return nil, tokenError(err)
	}

	return claims, nil
}

// Sign issues a token for claims. Registered time claims that are not set
// are filled in from the configured token duration.
func (a *HMACAuthorizer) Sign(claims jwt.MapClaims) (string, error) {
	now := time.Now()
	out := jwt.MapClaims{
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": now.Add(a.config.TokenDuration).Unix(),
	}
	if a.config.Issuer != "" {
		out["iss"] = a.config.Issuer
	}
	if a.config.Audience != "" {
		out["aud"] = a.config.Audience
	}
	for k, v := range claims {
		out[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, out)
	signed, err := token.SignedString([]byte(a.config.Secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
