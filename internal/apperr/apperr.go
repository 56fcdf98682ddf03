// Package apperr is the single error type surfaced by the organization,
// user and billing services. Handlers map its Kind to an HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hugh/go-orgs/internal/auth"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindValidation
	KindNotFound
	KindConflict
	KindInvariant
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvariant:
		return "invariant"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

type Error struct {
	Kind    Kind
	Message string
	// Status carries the auth adapter's HTTP status for KindUpstream errors.
	Status int
	Err    error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvariant:
		return http.StatusConflict
	case KindUpstream:
		if e.Status >= 400 {
			return e.Status
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var ErrNotAuthenticated = New(KindUnauthenticated, "Not authenticated")

func Validation(message string) *Error {
	return New(KindValidation, message)
}

func Invariant(message string) *Error {
	return New(KindInvariant, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, message)
}

// From converts any error into an *Error. Auth adapter failures become
// upstream errors whose message is "<code> <STATUS> <message>"; anything
// unrecognised becomes an internal error with an opaque message.
func From(err error) error {
	if err == nil {
		return nil
	}

	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var apiErr *auth.APIError
	if errors.As(err, &apiErr) {
		return &Error{
			Kind:    KindUpstream,
			Status:  apiErr.StatusCode,
			Message: fmt.Sprintf("%d %s %s", apiErr.StatusCode, apiErr.Status, apiErr.Message),
			Err:     err,
		}
	}

	return Wrap(KindInternal, "Internal server error", err)
}

// Fromf is From with a message prefix for internal errors, e.g.
// "Failed to update organization profile: ...".
func Fromf(err error, format string, args ...interface{}) error {
	converted := From(err)
	var appErr *Error
	if errors.As(converted, &appErr) && appErr.Kind == KindInternal {
		return Wrap(KindInternal, fmt.Sprintf(format, args...), err)
	}
	return converted
}

func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}
