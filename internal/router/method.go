package router

import (
	"fmt"
	"strings"
)

// Method is an HTTP method a route entry answers to
type Method string

const (
	MethodAny     Method = "ANY"
	MethodGet     Method = "GET"
	MethodHead    Method = "HEAD"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
)

var methods = []Method{
	MethodAny, MethodGet, MethodHead, MethodPost, MethodPut, MethodPatch, MethodDelete, MethodOptions,
}

// ParseMethod parses a method name case-insensitively
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unsupported method %q", s)
	}
	return m, nil
}

// Valid reports whether m is a supported method
func (m Method) Valid() bool {
	for _, known := range methods {
		if m == known {
			return true
		}
	}
	return false
}

// Matches reports whether an entry declared with m answers to requested
func (m Method) Matches(requested string) bool {
	return m == MethodAny || strings.EqualFold(string(m), requested)
}

func (m Method) String() string {
	return string(m)
}
