// Package apperr defines the error kinds shared by every pciledger package.
//
// Callers branch on kind with errors.Is against the package sentinels:
//
//	if errors.Is(err, apperr.ErrConflict) { ... }
//
// The HTTP layer maps kinds to status codes with HTTPStatus.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindStorage      Kind = "storage"
	KindUnauthorized Kind = "unauthorized"
)

// Sentinels matched by (*Error).Is.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStorage      = errors.New("storage failure")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is the sentinel for e's kind.
func (e *Error) Is(target error) bool {
	return sentinel(e.Kind) == target
}

func sentinel(k Kind) error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindStorage:
		return ErrStorage
	case KindUnauthorized:
		return ErrUnauthorized
	}
	return nil
}

// Validation reports malformed or missing input.
func Validation(op, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports an unknown entity id.
func NotFound(op, entity, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: fmt.Sprintf("%s %q not found", entity, id)}
}

// Conflict reports an operation that is not allowed in the entity's current state.
func Conflict(op, format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Storage wraps a failure of the backing store. A nil cause returns nil.
func Storage(op string, cause error) error {
	if cause == nil {
		return nil
	}
	var ae *Error
	if errors.As(cause, &ae) {
		// Already classified by a lower layer; keep its kind.
		return cause
	}
	return &Error{Kind: KindStorage, Op: op, Message: "store operation failed", Cause: cause}
}

// Unauthorized reports a missing or invalid caller identity.
func Unauthorized(op, message string) *Error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: message}
}

// KindOf returns the kind of err, or "" if err is not classified.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}
