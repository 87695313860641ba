package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/auth"
	"lambda-route-proxy/internal/chain"
)

// MsgEmailNotVerified is returned when the token's email has not been verified
const MsgEmailNotVerified = "Email for this account has not been verified."

// JWTValidation requires a bearer token whose claims carry a verified email
// and stores the claims in the route data. Claims already verified by the
// authorizer are reused; otherwise the token is decoded without signature
// verification, which belongs to the authorizer.
func JWTValidation() chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		raw, err := auth.BearerToken(args.Event)
		if err != nil {
			if apierr.Classify(err).Message == auth.MsgNoAuthorizationHeader {
				return args, err
			}
			return args, apierr.NewUnauthorized(auth.MsgTokenNotValid)
		}

		claims := args.RouteData.Claims
		if len(claims) == 0 {
			claims = jwt.MapClaims{}
			if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
				logrus.WithError(err).Debug("Failed to decode bearer token")
				return args, apierr.NewUnauthorized(auth.MsgTokenNotValid)
			}
		}

		if !emailVerified(claims) {
			return args, apierr.NewUnauthorized(MsgEmailNotVerified)
		}
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil && exp.Before(time.Now()) {
			return args, apierr.NewForbidden(auth.MsgTokenExpired)
		}
		if email, _ := claims["email"].(string); email == "" {
			return args, apierr.NewUnauthorized(auth.MsgTokenNotValid)
		}

		args.RouteData.Claims = claims
		return args, nil
	})
}

func emailVerified(claims jwt.MapClaims) bool {
	switch v := claims["email_verified"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// RotationSince flags tokens issued before rotatedAt for rotation. The
// dispatcher turns the flag into rotation response headers.
func RotationSince(rotatedAt time.Time) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		if args.RouteData.Claims == nil {
			return args, nil
		}
		iat, err := args.RouteData.Claims.GetIssuedAt()
		if err != nil || iat == nil {
			return args, nil
		}
		if iat.Before(rotatedAt) {
			args.RouteData.NeedsJWTRotation = true
		}
		return args, nil
	})
}

// Authorization requires the claims to carry at least one of the given roles
// in their "roles" claim
func Authorization(requiredRoles ...string) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		if len(requiredRoles) == 0 {
			return args, nil
		}

		userRoles := rolesOf(args.RouteData.Claims)
		for _, required := range requiredRoles {
			for _, role := range userRoles {
				if role == required {
					return args, nil
				}
			}
		}

		sub, _ := args.RouteData.Claims["sub"].(string)
		logrus.WithFields(logrus.Fields{
			"user_id":        sub,
			"user_roles":     userRoles,
			"required_roles": requiredRoles,
		}).Warn("Authorization failed - insufficient permissions")

		return args, apierr.New(apierr.KindAuthentication, http.StatusForbidden, "Insufficient permissions")
	})
}

func rolesOf(claims jwt.MapClaims) []string {
	switch v := claims["roles"].(type) {
	case []string:
		return v
	case []interface{}:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	case string:
		return []string{v}
	}
	return nil
}
