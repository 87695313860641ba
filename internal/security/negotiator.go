package security

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"lambda-route-proxy/internal/chain"
)

// CORS response header names
const (
	HeaderAllowOrigin      = "Access-Control-Allow-Origin"
	HeaderAllowMethods     = "Access-Control-Allow-Methods"
	HeaderAllowHeaders     = "Access-Control-Allow-Headers"
	HeaderAllowCredentials = "Access-Control-Allow-Credentials"
	HeaderMaxAge           = "Access-Control-Max-Age"
	HeaderVary             = "Vary"
)

// RotationReason is the fixed value of the rotation reason header
const RotationReason = "secret-rotated"

// permissivePatterns match every origin
var permissivePatterns = map[string]bool{
	".*":   true,
	"^.*$": true,
	"^.*":  true,
	".*$":  true,
	".+":   true,
	"^.+$": true,
}

// Negotiator is a compiled Policy. It is immutable and safe for concurrent use.
type Negotiator struct {
	policy   Policy
	wildcard bool
	exact    map[string]struct{}
	patterns []*regexp.Regexp
	invalid  []string
}

// Compile validates p and precompiles its origin patterns. A wildcard origin
// combined with credentials fails; invalid patterns are logged and skipped.
func Compile(p Policy, log logrus.FieldLogger) (*Negotiator, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	warnings, err := Validate(p)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	n := &Negotiator{
		policy:   clonePolicy(p),
		wildcard: p.HasWildcard(),
		exact:    make(map[string]struct{}, len(p.CORS.AllowOrigins)),
	}
	for _, origin := range p.CORS.AllowOrigins {
		if origin != Wildcard {
			n.exact[origin] = struct{}{}
		}
	}

	for _, pattern := range p.CORS.AllowOriginPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			log.WithFields(logrus.Fields{
				"pattern": pattern,
				"error":   err.Error(),
			}).Warn("Invalid regex pattern in allowOriginPatterns, skipping")
			n.invalid = append(n.invalid, pattern)
			continue
		}
		if permissivePatterns[pattern] {
			log.WithField("pattern", pattern).Warn("Origin pattern matches every origin")
		}
		n.patterns = append(n.patterns, re)
	}

	return n, nil
}

// MustCompile is like Compile but panics on error
func MustCompile(p Policy) *Negotiator {
	n, err := Compile(p, nil)
	if err != nil {
		panic(err)
	}
	return n
}

// Policy returns a copy of the compiled policy
func (n *Negotiator) Policy() Policy {
	return clonePolicy(n.policy)
}

// InvalidPatterns returns the origin patterns that failed to compile
func (n *Negotiator) InvalidPatterns() []string {
	return append([]string(nil), n.invalid...)
}

// Allowed reports whether origin is admitted by the policy
func (n *Negotiator) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if n.wildcard {
		return true
	}
	if _, ok := n.exact[origin]; ok {
		return true
	}
	for _, re := range n.patterns {
		if re.MatchString(origin) {
			return true
		}
	}
	return false
}

// CORSHeaders returns the CORS headers for a request origin. An empty or
// rejected origin yields no headers. A matched origin is echoed back as sent.
func (n *Negotiator) CORSHeaders(origin string) map[string]string {
	headers := map[string]string{}
	if !n.Allowed(origin) {
		return headers
	}

	cors := n.policy.CORS
	if n.wildcard {
		headers[HeaderAllowOrigin] = Wildcard
	} else {
		headers[HeaderAllowOrigin] = origin
		headers[HeaderVary] = "Origin"
	}
	if len(cors.AllowMethods) > 0 {
		headers[HeaderAllowMethods] = strings.Join(cors.AllowMethods, ", ")
	}
	if len(cors.AllowHeaders) > 0 {
		headers[HeaderAllowHeaders] = strings.Join(cors.AllowHeaders, ", ")
	}
	if cors.AllowCredentials {
		headers[HeaderAllowCredentials] = "true"
	}
	if cors.MaxAge > 0 {
		headers[HeaderMaxAge] = strconv.Itoa(cors.MaxAge)
	}
	return headers
}

// RotationHeaders returns the token rotation headers when rotation headers are
// enabled and a step flagged the token for rotation
func (n *Negotiator) RotationHeaders(rd chain.RouteData) map[string]string {
	headers := map[string]string{}
	rot := n.policy.JWTRotationHeaders
	if !rot.Enabled || !rd.NeedsJWTRotation {
		return headers
	}
	if rot.RotationRequiredHeader != "" {
		headers[rot.RotationRequiredHeader] = "true"
	}
	if rot.RotationReasonHeader != "" {
		headers[rot.RotationReasonHeader] = RotationReason
	}
	return headers
}

// DefaultHeaders returns a copy of the policy's default headers
func (n *Negotiator) DefaultHeaders() map[string]string {
	return copyHeaders(n.policy.DefaultHeaders)
}

// MergeHeaders merges header layers into a new map, later layers winning.
// Names are compared case-insensitively and the spelling of the winning layer
// is kept.
func MergeHeaders(layers ...map[string]string) map[string]string {
	merged := map[string]string{}
	names := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			canonical := http.CanonicalHeaderKey(k)
			if prev, ok := names[canonical]; ok && prev != k {
				delete(merged, prev)
			}
			names[canonical] = k
			merged[k] = v
		}
	}
	return merged
}

func copyHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

func clonePolicy(p Policy) Policy {
	c := p
	c.CORS.AllowOrigins = append([]string(nil), p.CORS.AllowOrigins...)
	c.CORS.AllowOriginPatterns = append([]string(nil), p.CORS.AllowOriginPatterns...)
	c.CORS.AllowMethods = append([]string(nil), p.CORS.AllowMethods...)
	c.CORS.AllowHeaders = append([]string(nil), p.CORS.AllowHeaders...)
	c.DefaultHeaders = copyHeaders(p.DefaultHeaders)
	return c
}
