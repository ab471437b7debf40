// Package upstream holds the error type returned by the third-party model
// clients, so callers classify failures without reading message text.
package upstream

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindTransport
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindTransport:
		return "transport"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "unknown"
	}
}

type Error struct {
	Service    string
	Kind       Kind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Service, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s request failed with status %d", e.Service, e.StatusCode)
	default:
		return fmt.Sprintf("%s request failed", e.Service)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusError builds the error for a non-success HTTP response.
func StatusError(service string, status int, body string) *Error {
	return &Error{Service: service, Kind: KindForStatus(status), StatusCode: status, Body: TruncateBody(body)}
}

// TransportError wraps a failure to reach the upstream at all.
func TransportError(service string, err error) *Error {
	return &Error{Service: service, Kind: KindTransport, Err: err}
}

func KindForStatus(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindUnauthorized
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindUnknown
	}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var upErr *Error
	if errors.As(err, &upErr) {
		return upErr.Kind, true
	}
	return KindUnknown, false
}

func TruncateBody(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4096 {
		return s
	}
	return s[:4096] + "..."
}
