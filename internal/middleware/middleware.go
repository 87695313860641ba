package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"lambda-route-proxy/internal/apierr"
	"lambda-route-proxy/internal/chain"
)

// SetHeaders adds fixed headers to the response header accumulator
func SetHeaders(headers map[string]string) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		return chain.AddResponseHeaders(args, headers), nil
	})
}

// SecurityHeaders adds browser security headers to the response
func SecurityHeaders(h chain.SecurityHeaders) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		return chain.AddSecurityHeaders(args, h), nil
	})
}

// CacheControl adds a Cache-Control header to the response
func CacheControl(maxAge int, opts chain.CacheOptions) chain.Step {
	return chain.Middleware(func(ctx context.Context, args chain.Args) (chain.Args, error) {
		return chain.AddCacheHeaders(args, maxAge, opts), nil
	})
}

// RateLimit applies a token bucket shared by every request that runs the
// step. Accepted requests get X-RateLimit-* headers; rejected requests fail
// with 429.
func RateLimit(requestsPerSecond float64, burstSize int) chain.Step {
	limiter := rate.NewLimiter(rate.Limit(requestsPerSecond), burstSize)

	return func(ctx context.Context, args chain.Args) (chain.Result, error) {
		now := time.Now()
		reset := now.Add(time.Second).Unix()

		if !limiter.AllowN(now, 1) {
			fields := logrus.Fields{"request_id": args.RouteData.RequestID}
			if args.Event != nil {
				fields["path"] = args.Event.RawPath
				fields["user_agent"] = args.Event.Header("User-Agent")
			}
			logrus.WithFields(fields).Warn("Rate limit exceeded")

			return chain.Result{}, apierr.NewRateLimited(
				fmt.Sprintf("Too many requests. Limit: %.1f requests per second", requestsPerSecond))
		}

		remaining := int(limiter.TokensAt(now))
		if remaining < 0 {
			remaining = 0
		}
		return chain.Continue(chain.AddRateLimitHeaders(args, burstSize, remaining, reset)), nil
	}
}
