package event

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"

	"lambda-route-proxy/internal/apierr"
)

// DefaultRouteKey is the API Gateway catch-all route key
const DefaultRouteKey = "$default"

// Matcher recovers a route template and its path parameters from a concrete path
type Matcher interface {
	Match(method, rawPath string) (template string, params map[string]string, ok bool)
}

// Request is the canonical, shape-independent form of an invocation
type Request struct {
	Version         string
	Method          string
	Path            string            // Matched route template, e.g. /users/{id}
	RawPath         string            // Concrete request path without query string
	PathParams      map[string]string // Keyed by placeholder name
	Query           map[string]string // First value of every query key
	Headers         map[string]string // Lower-cased header names
	Body            string
	IsBase64Encoded bool
	Origin          string
	RequestID       string // Request id assigned by the runtime, may be empty
	Event           Event  // Original invocation payload
}

// Header returns a request header value, matched case-insensitively
func (r *Request) Header(name string) string {
	if r == nil {
		return ""
	}
	return r.Headers[strings.ToLower(name)]
}

// Proxied reports whether the request arrived in the legacy proxy shape
func (r *Request) Proxied() bool {
	return r != nil && r.Event != nil && r.Event.Proxied()
}

// Normalize converts an invocation event into a Request. The v1 shape carries no
// route template, so the matcher is used to recover it and the path parameters.
func Normalize(ev Event, m Matcher) (*Request, error) {
	switch e := ev.(type) {
	case *V2:
		return normalizeV2(e, m)
	case *V1:
		return normalizeV1(e, m)
	case nil:
		return nil, apierr.NewValidation("Unsupported invocation event: missing payload")
	default:
		return nil, apierr.NewValidation("Unsupported invocation event: unknown payload type")
	}
}

// Unmatched builds a Request for an event whose route could not be resolved.
// Path is left empty and PathParams is empty.
func Unmatched(ev Event) *Request {
	req := &Request{
		PathParams: map[string]string{},
		Query:      map[string]string{},
		Headers:    map[string]string{},
		Event:      ev,
	}
	switch e := ev.(type) {
	case *V2:
		req.Version = VersionV2
		req.Method = e.Method()
		req.RawPath = e.RawPath
		req.Query = v2Query(e)
		req.Headers = lowerHeaders(e.Headers, nil)
		req.Body = e.Body
		req.IsBase64Encoded = e.IsBase64Encoded
		req.RequestID = e.RequestContext.RequestID
	case *V1:
		rawPath, rawQuery := splitQuery(e.Path)
		req.Version = VersionV1
		req.Method = e.Method()
		req.RawPath = rawPath
		req.Query = v1Query(e, rawQuery)
		req.Headers = lowerHeaders(e.Headers, e.MultiValueHeaders)
		req.Body = e.Body
		req.IsBase64Encoded = e.IsBase64Encoded
		req.RequestID = e.RequestContext.RequestID
	}
	req.Origin = req.Headers["origin"]
	return req
}

func normalizeV2(e *V2, m Matcher) (*Request, error) {
	req := Unmatched(e)

	if _, path, ok := splitRouteKey(e.RouteKey); ok && e.RouteKey != DefaultRouteKey {
		req.Path = path
		for k, v := range e.PathParameters {
			req.PathParams[k] = v
		}
		if req.RawPath == "" {
			req.RawPath = e.RequestContext.HTTP.Path
		}
		return req, nil
	}

	// $default route: the template has to be recovered like a v1 event
	rawPath := req.RawPath
	if rawPath == "" {
		rawPath = e.RequestContext.HTTP.Path
		req.RawPath = rawPath
	}
	template, params, ok := match(m, req.Method, rawPath)
	if !ok {
		return nil, apierr.NewRouteNotFound(req.Method, rawPath)
	}
	req.Path = template
	req.PathParams = params
	return req, nil
}

func normalizeV1(e *V1, m Matcher) (*Request, error) {
	req := Unmatched(e)

	template, params, ok := match(m, req.Method, req.RawPath)
	if !ok {
		return nil, apierr.NewRouteNotFound(req.Method, req.RawPath)
	}
	req.Path = template
	req.PathParams = params
	for k, v := range e.PathParameters {
		if _, exists := req.PathParams[k]; !exists {
			req.PathParams[k] = v
		}
	}
	return req, nil
}

func match(m Matcher, method, rawPath string) (string, map[string]string, bool) {
	if m == nil {
		return "", nil, false
	}
	template, params, ok := m.Match(method, rawPath)
	if !ok {
		return "", nil, false
	}
	if params == nil {
		params = map[string]string{}
	}
	return template, params, true
}

// v2Query prefers the raw query string, which preserves the order of repeated
// keys; queryStringParameters joins repeated values with commas.
func v2Query(e *V2) map[string]string {
	if e.RawQueryString != "" {
		if values, err := url.ParseQuery(e.RawQueryString); err == nil {
			return firstValues(values)
		}
	}
	query := make(map[string]string, len(e.QueryStringParameters))
	for k, v := range e.QueryStringParameters {
		first, _, _ := strings.Cut(v, ",")
		query[k] = first
	}
	return query
}

func v1Query(e *V1, rawQuery string) map[string]string {
	query := make(map[string]string)
	for k, values := range e.MultiValueQueryStringParameters {
		if len(values) > 0 {
			query[k] = values[0]
		}
	}
	for k, v := range e.QueryStringParameters {
		if _, exists := query[k]; !exists {
			query[k] = v
		}
	}
	if rawQuery != "" {
		if values, err := url.ParseQuery(rawQuery); err == nil {
			for k, v := range firstValues(values) {
				if _, exists := query[k]; !exists {
					query[k] = v
				}
			}
		}
	}
	return query
}

func firstValues(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

// splitQuery strips a trailing query string from a raw path
func splitQuery(rawPath string) (path, query string) {
	path, query, _ = strings.Cut(rawPath, "?")
	return path, query
}

func lowerHeaders(single map[string]string, multi map[string][]string) map[string]string {
	out := make(map[string]string, len(single)+len(multi))
	for k, values := range multi {
		if len(values) > 0 {
			out[strings.ToLower(k)] = values[0]
		}
	}
	for k, v := range single {
		out[strings.ToLower(k)] = v
	}
	return out
}

// DecodeBody returns the request body as a parsed JSON value when the content
// is valid JSON, as a string otherwise, and nil when the body is empty. A body
// flagged as base64 that does not decode is kept as the raw string.
func DecodeBody(body string, isBase64Encoded bool) (any, error) {
	if body == "" {
		return nil, nil
	}

	data := []byte(body)
	if isBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return body, nil
		}
		data = decoded
	}

	if !json.Valid(data) {
		return string(data), nil
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return string(data), nil
	}
	return parsed, nil
}
