// Package apperr is the error taxonomy shared by the account flows and the HTTP
// layer. Every failure that reaches a client is one of these kinds.
package apperr

import (
	"errors"
	"net/http"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	Authentication
	Authorization
	NotFound
	Conflict
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Authentication:
		return "authentication"
	case Authorization:
		return "authorization"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Status maps a kind to its HTTP status code.
func (k Kind) Status() int {
	switch k {
	case Validation:
		return http.StatusBadRequest
	case Authentication:
		return http.StatusUnauthorized
	case Authorization:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validationf(code, message string) *Error {
	return New(Validation, code, message)
}

func Unauthenticated(code, message string) *Error {
	return New(Authentication, code, message)
}

func Forbidden(code, message string) *Error {
	return New(Authorization, code, message)
}

func NotFoundf(code, message string) *Error {
	return New(NotFound, code, message)
}

func Conflictf(code, message string) *Error {
	return New(Conflict, code, message)
}

// InternalErr hides err behind a generic message; the cause stays reachable
// through Unwrap for server-side logging.
func InternalErr(message string, err error) *Error {
	return Wrap(Internal, "internal_error", message, err)
}

// As extracts an *Error, converting anything else into an Internal one.
func As(err error) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e
	}

	return InternalErr("Something went wrong", err)
}

func KindOf(err error) Kind {
	return As(err).Kind
}
