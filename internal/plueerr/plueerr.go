// Package plueerr defines the typed error kinds shared across Plue's
// components, following the kind taxonomy laid out for the service: every
// error a caller might need to branch on (rather than just log) is an *Error
// carrying a stable Kind, which KindOf reads back.
package plueerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind categorizes an error for wire-level translation by front ends.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindAuthz        Kind = "authorization"
	KindResource     Kind = "resource"
	KindIntegrity    Kind = "integrity"
	KindBackend      Kind = "backend"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
)

// Error is a typed, wrapped error with a stable Kind for dispatch and an
// optional underlying cause.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind/code with a formatted message.
func New(kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches kind/code context to an underlying error without discarding
// it. The cause is run through errors.Wrapf (the teacher's own idiom for
// adding message context while keeping the original error and its stack
// trace available to errors.Cause/errors.Is), so KindOf and Unwrap still see
// straight through to it.
func Wrap(cause error, kind Kind, code, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...), Cause: errors.Wrapf(cause, format, args...)}
}

// KindOf extracts the Kind of err if it (or something it wraps) is a *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	if e == nil {
		return "", false
	}
	return e.Kind, true
}

// Validation-kind constructors used throughout §4.1/§4.2/§4.5 boundary checks.
func Validation(code, format string, args ...interface{}) *Error {
	return New(KindValidation, code, format, args...)
}

func Authz(code, format string, args ...interface{}) *Error {
	return New(KindAuthz, code, format, args...)
}

func Resource(code, format string, args ...interface{}) *Error {
	return New(KindResource, code, format, args...)
}

func Integrity(code, format string, args ...interface{}) *Error {
	return New(KindIntegrity, code, format, args...)
}

func Backend(code, format string, args ...interface{}) *Error {
	return New(KindBackend, code, format, args...)
}

func Conflict(code, format string, args ...interface{}) *Error {
	return New(KindConflict, code, format, args...)
}

func NotFound(code, format string, args ...interface{}) *Error {
	return New(KindNotFound, code, format, args...)
}
