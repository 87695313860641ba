package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a dispatch failure
type Kind string

const (
	KindRouteNotFound       Kind = "route_not_found"
	KindHandlerChainMissing Kind = "handler_chain_missing"
	KindAuthentication      Kind = "authentication_failure"
	KindValidation          Kind = "validation_failure"
	KindHandlerInvariant    Kind = "handler_invariant_failure"
	KindRateLimited         Kind = "rate_limited"
	KindConfiguration       Kind = "configuration_error"
	KindUnclassified        Kind = "unclassified"
)

// Error is a failure that carries the HTTP status it maps to
type Error struct {
	Kind       Kind   // Failure classification
	StatusCode int    // HTTP status code returned to the caller
	Message    string // Public message, safe to return in a response body
	Err        error  // Underlying cause, logged but never returned to the caller
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a new Error
func New(kind Kind, statusCode int, message string) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
	}
}

// Wrap creates a new Error around an underlying cause
func Wrap(kind Kind, statusCode int, message string, err error) *Error {
	return &Error{
		Kind:       kind,
		StatusCode: statusCode,
		Message:    message,
		Err:        err,
	}
}

// NewRouteNotFound reports that no route entry matched method and path.
// The 400 status is part of the public contract of the dispatcher, it is not a 404.
func NewRouteNotFound(method, path string) *Error {
	return New(KindRouteNotFound, http.StatusBadRequest, fmt.Sprintf("Route not found: %s %s", method, path))
}

// NewHandlerChainMissing reports a route whose handler identifier has no registered chain
func NewHandlerChainMissing(handler string) *Error {
	return New(KindHandlerChainMissing, http.StatusInternalServerError, fmt.Sprintf("No handler chain registered for %q", handler))
}

// NewUnauthorized reports an absent or invalid credential
func NewUnauthorized(message string) *Error {
	return New(KindAuthentication, http.StatusUnauthorized, message)
}

// NewForbidden reports a credential that is present but no longer acceptable (e.g. expired)
func NewForbidden(message string) *Error {
	return New(KindAuthentication, http.StatusForbidden, message)
}

// NewValidation reports request input that failed validation
func NewValidation(message string) *Error {
	return New(KindValidation, http.StatusBadRequest, message)
}

// NewHandlerInvariant reports a terminal response that broke the response contract
func NewHandlerInvariant(message string) *Error {
	return New(KindHandlerInvariant, http.StatusInternalServerError, message)
}

// NewRateLimited reports a request rejected by a rate limiter
func NewRateLimited(message string) *Error {
	return New(KindRateLimited, http.StatusTooManyRequests, message)
}

// NewConfiguration reports an invalid configuration detected at load time
func NewConfiguration(message string, err error) *Error {
	return Wrap(KindConfiguration, http.StatusInternalServerError, message, err)
}

// Classify converts any error into an *Error. Errors that are not typed map to
// KindUnclassified with status 500 and their message extracted best-effort.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 0 {
			return &Error{Kind: apiErr.Kind, StatusCode: http.StatusInternalServerError, Message: apiErr.Message, Err: apiErr.Err}
		}
		return apiErr
	}

	message := err.Error()
	if message == "" {
		message = "Unknown error"
	}
	return Wrap(KindUnclassified, http.StatusInternalServerError, message, err)
}

// StatusCode returns the HTTP status an error maps to
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return Classify(err).StatusCode
}

// KindOf returns the Kind of an error, KindUnclassified for untyped errors
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindUnclassified
}

// IsRouteNotFound returns true if the error indicates an unmatched route
func IsRouteNotFound(err error) bool {
	return KindOf(err) == KindRouteNotFound
}

// IsHandlerChainMissing returns true if the error indicates an unbound handler identifier
func IsHandlerChainMissing(err error) bool {
	return KindOf(err) == KindHandlerChainMissing
}

// IsAuthentication returns true if the error indicates an authentication failure
func IsAuthentication(err error) bool {
	return KindOf(err) == KindAuthentication
}

// IsValidation returns true if the error indicates a validation failure
func IsValidation(err error) bool {
	return KindOf(err) == KindValidation
}

// IsConfiguration returns true if the error indicates a configuration failure
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}
