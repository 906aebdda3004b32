// Package apperr defines the error taxonomy shared by services and handlers and
// maps it onto HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthenticationRequired
	KindAuthorizationDenied
	KindValidationFailed
	KindNotFound
	KindConflict
	KindRateLimited
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindAuthenticationRequired:
		return "authentication_required"
	case KindAuthorizationDenied:
		return "authorization_denied"
	case KindValidationFailed:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindRateLimited:
		return "rate_limited"
	case KindUpstream:
		return "upstream_service_error"
	}
	return "internal"
}

// Error is a classified failure. Message is safe to show to the caller.
type Error struct {
	Kind     Kind
	Message  string
	Field    string // ValidationFailed
	Entity   string // NotFound
	Provider string // Upstream
	Status   int    // overrides the kind's default status when non-zero
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for the error.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	switch e.Kind {
	case KindAuthenticationRequired:
		return http.StatusUnauthorized
	case KindAuthorizationDenied:
		return http.StatusForbidden
	case KindValidationFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func Unauthenticated() *Error {
	return &Error{Kind: KindAuthenticationRequired, Message: "authentication required"}
}

func Forbidden(reason string) *Error {
	return &Error{Kind: KindAuthorizationDenied, Message: reason}
}

func Invalid(field, msg string) *Error {
	return &Error{Kind: KindValidationFailed, Field: field, Message: msg}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Entity: entity, Message: entity + " not found"}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

func RateLimited() *Error {
	return &Error{Kind: KindRateLimited, Message: "too many requests, slow down"}
}

// Upstream wraps a failure from an external provider. status 0 means 502.
func Upstream(provider string, status int, msg string, err error) *Error {
	return &Error{Kind: KindUpstream, Provider: provider, Status: status, Message: msg, Err: err}
}

// As extracts an *Error from err.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
