// Package apierr defines the error kinds surfaced at the HTTP boundary and
// their status codes.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for status-code mapping.
type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindParse           Kind = "parse"
	KindUpstream        Kind = "upstream"
	KindAuthorization   Kind = "authorization"
	KindUnauthenticated Kind = "unauthenticated"
	KindPersistence     Kind = "persistence"
	KindIngestion       Kind = "ingestion"
)

// Error carries a kind, a client-facing message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code for the kind.
func (e *Error) Status() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidation, KindIngestion:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Detail is the message sent to clients. Causes of 5xx errors are not exposed.
func (e *Error) Detail() string {
	if e == nil {
		return http.StatusText(http.StatusInternalServerError)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Status() < 500 && e.Err != nil {
		return e.Err.Error()
	}
	return http.StatusText(e.Status())
}

func New(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// Parse wraps a failure to decode model output into its declared schema.
func Parse(err error) *Error {
	return &Error{Kind: KindParse, Message: "model output did not match schema", Err: err}
}

// Upstream wraps a failure of an external service (LLM, storage, speech, video).
func Upstream(service string, err error) *Error {
	return &Error{Kind: KindUpstream, Message: service + " request failed", Err: err}
}

func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Message: "storage failure", Err: err}
}

func Ingestion(msg string, err error) *Error {
	return &Error{Kind: KindIngestion, Message: msg, Err: err}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Status maps any error to a status code; unknown errors are 500.
func Status(err error) int {
	if e, ok := As(err); ok {
		return e.Status()
	}
	return http.StatusInternalServerError
}
