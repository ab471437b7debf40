// Package apperr defines the application error taxonomy shared by services
// and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuth
	KindUpstreamAuth
	KindForbidden
	KindNotFound
	KindRateLimit
	KindConfig
	KindUpstream
	KindGeneration
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuth:
		return "auth"
	case KindUpstreamAuth:
		return "upstream_auth"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindRateLimit:
		return "rate_limit"
	case KindConfig:
		return "config"
	case KindUpstream:
		return "upstream"
	case KindGeneration:
		return "generation"
	default:
		return "internal"
	}
}

// HTTPStatus is the response status a request failing with this kind gets.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth, KindUpstreamAuth:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to clients; Err
// carries the underlying cause for logs and the optional details field.
type Error struct {
	Kind    Kind
	Message string
	// Tags holds the raw model reply when tag validation fails.
	Tags string
	Err  error
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

// Detail returns the underlying cause message, or "" when there is none.
func (e *Error) Detail() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Validation(message string) *Error { return New(KindValidation, message, nil) }

func NotFound(message string) *Error { return New(KindNotFound, message, nil) }

func Forbidden(message string) *Error { return New(KindForbidden, message, nil) }

func RateLimited(message string) *Error { return New(KindRateLimit, message, nil) }

func Unauthorized(message string) *Error { return New(KindAuth, message, nil) }

func Config(message string) *Error { return New(KindConfig, message, nil) }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
