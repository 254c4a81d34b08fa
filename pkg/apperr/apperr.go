// Package apperr defines the typed application errors shared across layers.
// Business-rule violations carry a stable machine Code that transports render
// verbatim, while infrastructure failures collapse into KindInternal so callers
// can always distinguish "invalid request" from "system trouble".
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates supported error categories.
type Kind string

const (
	KindBadRequest          Kind = "bad_request"
	KindConflict            Kind = "conflict"
	KindNotFound            Kind = "not_found"
	KindUnprocessableEntity Kind = "unprocessable_entity"
	KindInternal            Kind = "internal"
)

// Code is a stable machine-readable identifier for a business outcome.
type Code string

const (
	CodeOrderNotFound       Code = "order_not_found"
	CodeApplicationNotFound Code = "application_not_found"
	CodeInvalidTransition   Code = "invalid_transition"
	CodeOnlyNewClaimable    Code = "only_NEW_can_be_claimed"
	CodeUpdateFailed        Code = "update_failed"
)

// Error captures error context shared across transports.
type Error struct {
	kind    Kind
	code    Code
	message string
	cause   error
}

// Option mutates an Error during construction.
type Option func(*Error)

// WithCause attaches an underlying error.
func WithCause(err error) Option {
	return func(e *Error) { e.cause = err }
}

// WithCode tags the error with a machine-readable business code.
func WithCode(code Code) Option {
	return func(e *Error) { e.code = code }
}

// New constructs an Error with the supplied kind and message.
func New(kind Kind, message string, opts ...Option) *Error {
	if message == "" {
		message = string(kind)
	}
	e := &Error{kind: kind, message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Kind returns the error category.
func (e *Error) Kind() Kind {
	if e == nil {
		return KindInternal
	}
	return e.kind
}

// Code returns the machine-readable business code, empty when none applies.
func (e *Error) Code() Code {
	if e == nil {
		return ""
	}
	return e.code
}

// Message returns the human-readable message.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// StatusCode resolves the HTTP status for the error kind.
func (e *Error) StatusCode() int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindUnprocessableEntity:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// BadRequest constructs a 400 error.
func BadRequest(message string, opts ...Option) *Error {
	return New(KindBadRequest, message, opts...)
}

// Conflict constructs a 409 error.
func Conflict(message string, opts ...Option) *Error {
	return New(KindConflict, message, opts...)
}

// NotFound constructs a 404 error.
func NotFound(message string, opts ...Option) *Error {
	return New(KindNotFound, message, opts...)
}

// Unprocessable constructs a 422 error.
func Unprocessable(message string, opts ...Option) *Error {
	return New(KindUnprocessableEntity, message, opts...)
}

// Internal constructs a generic 500 error.
func Internal(message string, opts ...Option) *Error {
	return New(KindInternal, message, opts...)
}

// From returns an *Error for any error input, wrapping unexpected values.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal("internal error", WithCause(err))
}

// HasCode reports whether err is an application error carrying code.
func HasCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code() == code
}
