// Package security computes the CORS, default and token rotation headers
// attached to every dispatcher response.
package security

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"lambda-route-proxy/internal/apierr"
)

// Wildcard is the allowed-origin marker that admits every origin
const Wildcard = "*"

// Recommended default headers; a policy missing any of them gets a warning
var recommendedHeaders = []string{
	"X-Content-Type-Options",
	"X-Frame-Options",
	"X-XSS-Protection",
}

// CORS holds the cross-origin settings of a policy
type CORS struct {
	AllowOrigins        []string `json:"allowOrigin" yaml:"allowOrigin"`
	AllowOriginPatterns []string `json:"allowOriginPatterns" yaml:"allowOriginPatterns"`
	AllowMethods        []string `json:"allowMethods" yaml:"allowMethods"`
	AllowHeaders        []string `json:"allowHeaders" yaml:"allowHeaders"`
	AllowCredentials    bool     `json:"allowCredentials" yaml:"allowCredentials"`
	MaxAge              int      `json:"maxAge" yaml:"maxAge"`
}

// RotationHeaders names the headers emitted when a token has to be rotated
type RotationHeaders struct {
	Enabled                bool   `json:"enabled" yaml:"enabled"`
	RotationRequiredHeader string `json:"rotationRequiredHeader" yaml:"rotationRequiredHeader"`
	RotationReasonHeader   string `json:"rotationReasonHeader" yaml:"rotationReasonHeader"`
}

// Policy is the security configuration shared by every invocation
type Policy struct {
	CORS               CORS              `json:"cors" yaml:"cors"`
	DefaultHeaders     map[string]string `json:"defaultHeaders" yaml:"defaultHeaders"`
	JWTRotationHeaders RotationHeaders   `json:"jwtRotationHeaders" yaml:"jwtRotationHeaders"`
}

// DefaultPolicy returns the secure baseline: no cross-origin access, JSON
// content type and the recommended browser protection headers.
func DefaultPolicy() Policy {
	return Policy{
		CORS: CORS{
			AllowOrigins: []string{},
			AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:       86400,
		},
		DefaultHeaders: map[string]string{
			"Content-Type":           "application/json",
			"X-Content-Type-Options": "nosniff",
			"X-Frame-Options":        "DENY",
			"X-XSS-Protection":       "1; mode=block",
		},
		JWTRotationHeaders: RotationHeaders{
			Enabled:                true,
			RotationRequiredHeader: "X-Token-Rotation-Required",
			RotationReasonHeader:   "X-Token-Rotation-Reason",
		},
	}
}

// Origins accepts either a single origin or a list of origins
type Origins []string

func (o *Origins) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*o = Origins{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("allowOrigin must be a string or a list of strings: %w", err)
	}
	*o = list
	return nil
}

func (o *Origins) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return nil
		}
		*o = Origins{value.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := value.Decode(&list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	return fmt.Errorf("allowOrigin must be a string or a list of strings (line %d)", value.Line)
}

// CORSOverride is the user supplied part of the CORS section. Nil fields keep
// the default value.
type CORSOverride struct {
	AllowOrigins        Origins  `json:"allowOrigin" yaml:"allowOrigin"`
	AllowOriginPatterns []string `json:"allowOriginPatterns" yaml:"allowOriginPatterns"`
	AllowMethods        []string `json:"allowMethods" yaml:"allowMethods"`
	AllowHeaders        []string `json:"allowHeaders" yaml:"allowHeaders"`
	AllowCredentials    *bool    `json:"allowCredentials" yaml:"allowCredentials"`
	MaxAge              *int     `json:"maxAge" yaml:"maxAge"`
}

// RotationOverride is the user supplied part of the rotation section
type RotationOverride struct {
	Enabled                *bool   `json:"enabled" yaml:"enabled"`
	RotationRequiredHeader *string `json:"rotationRequiredHeader" yaml:"rotationRequiredHeader"`
	RotationReasonHeader   *string `json:"rotationReasonHeader" yaml:"rotationReasonHeader"`
}

// Override is a partial policy as read from a policy file
type Override struct {
	CORS               *CORSOverride     `json:"cors" yaml:"cors"`
	DefaultHeaders     map[string]string `json:"defaultHeaders" yaml:"defaultHeaders"`
	JWTRotationHeaders *RotationOverride `json:"jwtRotationHeaders" yaml:"jwtRotationHeaders"`
}

// IsZero reports whether the override sets nothing
func (o Override) IsZero() bool {
	return o.CORS == nil && o.DefaultHeaders == nil && o.JWTRotationHeaders == nil
}

// Merge applies user on top of base section by section. Fields set in user
// replace the base value; default headers are merged key by key.
func Merge(base Policy, user Override) Policy {
	merged := Policy{
		CORS:               base.CORS,
		DefaultHeaders:     make(map[string]string, len(base.DefaultHeaders)+len(user.DefaultHeaders)),
		JWTRotationHeaders: base.JWTRotationHeaders,
	}
	for k, v := range base.DefaultHeaders {
		merged.DefaultHeaders[k] = v
	}
	for k, v := range user.DefaultHeaders {
		merged.DefaultHeaders[k] = v
	}

	if c := user.CORS; c != nil {
		if c.AllowOrigins != nil {
			merged.CORS.AllowOrigins = append([]string(nil), c.AllowOrigins...)
		}
		if c.AllowOriginPatterns != nil {
			merged.CORS.AllowOriginPatterns = append([]string(nil), c.AllowOriginPatterns...)
		}
		if c.AllowMethods != nil {
			merged.CORS.AllowMethods = append([]string(nil), c.AllowMethods...)
		}
		if c.AllowHeaders != nil {
			merged.CORS.AllowHeaders = append([]string(nil), c.AllowHeaders...)
		}
		if c.AllowCredentials != nil {
			merged.CORS.AllowCredentials = *c.AllowCredentials
		}
		if c.MaxAge != nil {
			merged.CORS.MaxAge = *c.MaxAge
		}
	}

	if r := user.JWTRotationHeaders; r != nil {
		if r.Enabled != nil {
			merged.JWTRotationHeaders.Enabled = *r.Enabled
		}
		if r.RotationRequiredHeader != nil {
			merged.JWTRotationHeaders.RotationRequiredHeader = *r.RotationRequiredHeader
		}
		if r.RotationReasonHeader != nil {
			merged.JWTRotationHeaders.RotationReasonHeader = *r.RotationReasonHeader
		}
	}

	return merged
}

// HasWildcard reports whether the policy admits every origin
func (p Policy) HasWildcard() bool {
	for _, origin := range p.CORS.AllowOrigins {
		if origin == Wildcard {
			return true
		}
	}
	return false
}

// Validate checks the policy for misconfigurations. A wildcard origin combined
// with credentials is an error; everything else is reported as a warning.
func Validate(p Policy) (warnings []string, err error) {
	wildcard := p.HasWildcard()

	if wildcard && p.CORS.AllowCredentials {
		return nil, apierr.NewConfiguration(
			"Cannot use Access-Control-Allow-Credentials: true with Access-Control-Allow-Origin: *, specify explicit origins instead",
			nil,
		)
	}

	if wildcard {
		warnings = append(warnings, "Using wildcard (*) for Access-Control-Allow-Origin, consider specifying explicit origins")
	}
	if len(p.CORS.AllowOrigins) == 0 && len(p.CORS.AllowOriginPatterns) == 0 {
		warnings = append(warnings, "No CORS origins configured, cross-origin requests will not receive CORS headers")
	}
	for _, header := range recommendedHeaders {
		if p.DefaultHeaders[header] == "" {
			warnings = append(warnings, fmt.Sprintf("Consider adding the %s default header", header))
		}
	}

	return warnings, nil
}
