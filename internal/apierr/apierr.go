// Package apierr defines AgentForge's error taxonomy: a small, closed set
// of error classes that every component returns instead of raw errors, so
// the API layer can map them to HTTP status codes without inspecting
// error strings.
package apierr

import (
	"errors"
	"fmt"
)

// Class identifies which HTTP status family an error belongs to.
type Class int

const (
	// Internal is an unexpected failure (storage, encoding, etc.); maps
	// to 500 and is logged with its full detail.
	Internal Class = iota
	// BadRequest is a malformed or semantically invalid request; maps
	// to 400.
	BadRequest
	// Unauthorized is a missing or invalid API key; maps to 401.
	Unauthorized
	// NotFound is a missing resource, or a resource the caller is not
	// permitted to see (ownership is never distinguished from absence
	// in the response); maps to 404.
	NotFound
	// RateLimited is a request rejected by the per-agent rate limiter;
	// maps to 429.
	RateLimited
)

// Error is the error type every component in AgentForge returns for a
// condition the API layer must render as a specific status code.
type Error struct {
	Class   Class
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// StatusCode returns the HTTP status code for e's class.
func (e *Error) StatusCode() int {
	switch e.Class {
	case BadRequest:
		return 400
	case Unauthorized:
		return 401
	case NotFound:
		return 404
	case RateLimited:
		return 429
	default:
		return 500
	}
}

func newf(class Class, format string, args ...any) *Error {
	return &Error{Class: class, Message: fmt.Sprintf(format, args...)}
}

// NewBadRequest builds a BadRequest error.
func NewBadRequest(format string, args ...any) *Error {
	return newf(BadRequest, format, args...)
}

// NewUnauthorized builds an Unauthorized error.
func NewUnauthorized(format string, args ...any) *Error {
	return newf(Unauthorized, format, args...)
}

// NewNotFound builds a NotFound error.
func NewNotFound(format string, args ...any) *Error {
	return newf(NotFound, format, args...)
}

// NewRateLimited builds a RateLimited error.
func NewRateLimited(format string, args ...any) *Error {
	return newf(RateLimited, format, args...)
}

// Wrap builds an Internal error that carries cause for logging, while
// keeping the message returned to the caller generic.
func Wrap(cause error, message string) *Error {
	return &Error{Class: Internal, Message: message, cause: cause}
}

// As extracts an *Error from err; returns nil, false if err is not (and
// does not wrap) an *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
