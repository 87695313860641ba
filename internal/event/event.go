// Package event decodes the two API Gateway invocation payloads and
// normalizes them into a single canonical Request.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"lambda-route-proxy/internal/apierr"
)

// Payload format versions
const (
	VersionV1 = "1.0"
	VersionV2 = "2.0"
)

// Event is one of the supported invocation payloads: *V1 or *V2
type Event interface {
	// Version returns the payload format version
	Version() string
	// Method returns the HTTP method of the invocation
	Method() string
	// Header returns a request header value, matched case-insensitively
	Header(name string) string
	// Proxied reports whether the payload is the legacy proxy shape
	Proxied() bool

	sealed()
}

// V1 is the legacy REST API proxy payload
type V1 struct {
	events.APIGatewayProxyRequest
}

// V2 is the HTTP API payload format 2.0
type V2 struct {
	events.APIGatewayV2HTTPRequest
}

func (*V1) sealed() {}
func (*V2) sealed() {}

func (e *V1) Version() string { return VersionV1 }
func (e *V2) Version() string { return VersionV2 }

func (e *V1) Proxied() bool { return true }
func (e *V2) Proxied() bool { return false }

func (e *V1) Method() string {
	if e.HTTPMethod != "" {
		return strings.ToUpper(e.HTTPMethod)
	}
	return strings.ToUpper(e.RequestContext.HTTPMethod)
}

func (e *V2) Method() string {
	if method := e.RequestContext.HTTP.Method; method != "" {
		return strings.ToUpper(method)
	}
	if method, _, ok := splitRouteKey(e.RouteKey); ok {
		return method
	}
	return ""
}

func (e *V1) Header(name string) string {
	if v, ok := lookupHeader(e.Headers, name); ok {
		return v
	}
	for k, values := range e.MultiValueHeaders {
		if strings.EqualFold(k, name) && len(values) > 0 {
			return values[0]
		}
	}
	return ""
}

func (e *V2) Header(name string) string {
	v, _ := lookupHeader(e.Headers, name)
	return v
}

// probe holds the fields inspected to tell the payload shapes apart
type probe struct {
	Version        string                     `json:"version"`
	RouteKey       *string                    `json:"routeKey"`
	HTTPMethod     string                     `json:"httpMethod"`
	RequestContext map[string]json.RawMessage `json:"requestContext"`
}

// Decode inspects a raw invocation payload and returns the matching Event.
// The version tag is checked first; the v1 request-context layout is the fallback.
func Decode(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, apierr.NewValidation("Unsupported invocation event: expected a JSON object")
	}

	var p probe
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Unsupported invocation event: malformed JSON", err)
	}

	switch {
	case p.Version == VersionV2:
		return decodeV2(raw)
	case p.HTTPMethod != "" || hasKey(p.RequestContext, "httpMethod"):
		return decodeV1(raw)
	case p.RouteKey != nil:
		return decodeV2(raw)
	}

	return nil, apierr.NewValidation("Unsupported invocation event: unknown payload shape")
}

func decodeV1(raw []byte) (Event, error) {
	var ev V1
	if err := json.Unmarshal(raw, &ev.APIGatewayProxyRequest); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Invalid v1 invocation event", err)
	}
	return &ev, nil
}

func decodeV2(raw []byte) (Event, error) {
	var ev V2
	if err := json.Unmarshal(raw, &ev.APIGatewayV2HTTPRequest); err != nil {
		return nil, apierr.Wrap(apierr.KindValidation, http.StatusBadRequest, "Invalid v2 invocation event", err)
	}
	return &ev, nil
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}

func lookupHeader(headers map[string]string, name string) (string, bool) {
	if v, ok := headers[name]; ok {
		return v, true
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// splitRouteKey splits a "METHOD /path" route key
func splitRouteKey(routeKey string) (method, path string, ok bool) {
	method, path, ok = strings.Cut(strings.TrimSpace(routeKey), " ")
	if !ok || method == "" || path == "" {
		return "", "", false
	}
	return strings.ToUpper(method), strings.TrimSpace(path), true
}

// String is used in log fields
func String(ev Event) string {
	if ev == nil {
		return "<nil>"
	}
	return fmt.Sprintf("v%s %s", ev.Version(), ev.Method())
}
