package chain

import (
	"fmt"
	"strconv"
	"strings"
)

// Header names set by the helpers below
const (
	HeaderRateLimitLimit          = "X-RateLimit-Limit"
	HeaderRateLimitRemaining      = "X-RateLimit-Remaining"
	HeaderRateLimitReset          = "X-RateLimit-Reset"
	HeaderCacheControl            = "Cache-Control"
	HeaderContentSecurityPolicy   = "Content-Security-Policy"
	HeaderStrictTransportSecurity = "Strict-Transport-Security"
	HeaderReferrerPolicy          = "Referrer-Policy"
	HeaderPermissionsPolicy       = "Permissions-Policy"
	HeaderTokenRotationRequired   = "X-Token-Rotation-Required"
	HeaderTokenRotationReason     = "X-Token-Rotation-Reason"
	HeaderWWWAuthenticate         = "WWW-Authenticate"
)

// AddResponseHeader returns a copy of args with name set in the response
// header accumulator. The accumulator of args itself is not modified.
func AddResponseHeader(args Args, name, value string) Args {
	return AddResponseHeaders(args, map[string]string{name: value})
}

// AddResponseHeaders returns a copy of args with every header merged into the
// response header accumulator
func AddResponseHeaders(args Args, headers map[string]string) Args {
	merged := make(map[string]string, len(args.ResponseHeaders)+len(headers))
	for k, v := range args.ResponseHeaders {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}
	args.ResponseHeaders = merged
	return args
}

// AddConditionalHeader adds the header only when condition holds
func AddConditionalHeader(args Args, condition bool, name, value string) Args {
	if !condition {
		return args
	}
	return AddResponseHeader(args, name, value)
}

// AddRateLimitHeaders sets the X-RateLimit-* headers. reset is a unix timestamp.
func AddRateLimitHeaders(args Args, limit, remaining int, reset int64) Args {
	return AddResponseHeaders(args, map[string]string{
		HeaderRateLimitLimit:     strconv.Itoa(limit),
		HeaderRateLimitRemaining: strconv.Itoa(remaining),
		HeaderRateLimitReset:     strconv.FormatInt(reset, 10),
	})
}

// CacheOptions selects Cache-Control directives
type CacheOptions struct {
	Public         bool
	Private        bool
	NoCache        bool
	NoStore        bool
	MustRevalidate bool
}

// AddCacheHeaders sets Cache-Control. A max age of zero or less is omitted.
func AddCacheHeaders(args Args, maxAge int, opts CacheOptions) Args {
	var directives []string
	if opts.Public {
		directives = append(directives, "public")
	}
	if opts.Private {
		directives = append(directives, "private")
	}
	if opts.NoCache {
		directives = append(directives, "no-cache")
	}
	if opts.NoStore {
		directives = append(directives, "no-store")
	}
	if opts.MustRevalidate {
		directives = append(directives, "must-revalidate")
	}
	if maxAge > 0 {
		directives = append(directives, fmt.Sprintf("max-age=%d", maxAge))
	}
	return AddResponseHeader(args, HeaderCacheControl, strings.Join(directives, ", "))
}

// SecurityHeaders holds optional browser security headers. Empty fields are skipped.
type SecurityHeaders struct {
	ContentSecurityPolicy   string
	StrictTransportSecurity string
	ReferrerPolicy          string
	PermissionsPolicy       string
}

// AddSecurityHeaders sets the non-empty headers of h
func AddSecurityHeaders(args Args, h SecurityHeaders) Args {
	headers := map[string]string{}
	if h.ContentSecurityPolicy != "" {
		headers[HeaderContentSecurityPolicy] = h.ContentSecurityPolicy
	}
	if h.StrictTransportSecurity != "" {
		headers[HeaderStrictTransportSecurity] = h.StrictTransportSecurity
	}
	if h.ReferrerPolicy != "" {
		headers[HeaderReferrerPolicy] = h.ReferrerPolicy
	}
	if h.PermissionsPolicy != "" {
		headers[HeaderPermissionsPolicy] = h.PermissionsPolicy
	}
	return AddResponseHeaders(args, headers)
}

// AuthHeaders describes authentication related response headers
type AuthHeaders struct {
	TokenRotationRequired bool
	TokenRotationReason   string
	Realm                 string
	Scheme                string // Defaults to Bearer
}

// AddAuthHeaders sets token rotation and WWW-Authenticate headers
func AddAuthHeaders(args Args, h AuthHeaders) Args {
	headers := map[string]string{}
	if h.TokenRotationRequired {
		headers[HeaderTokenRotationRequired] = "true"
	}
	if h.TokenRotationReason != "" {
		headers[HeaderTokenRotationReason] = h.TokenRotationReason
	}
	if h.Realm != "" {
		scheme := h.Scheme
		if scheme == "" {
			scheme = "Bearer"
		}
		headers[HeaderWWWAuthenticate] = fmt.Sprintf("%s realm=%q", scheme, h.Realm)
	}
	return AddResponseHeaders(args, headers)
}
