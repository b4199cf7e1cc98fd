package gitexec

import (
	"fmt"

	"github.com/plue-git/plue/internal/plueerr"
)

// Code enumerates the executor's failure model (§4.1).
type Code string

const (
	CodeGitNotFound      Code = "GitNotFound"
	CodeInvalidArgument   Code = "InvalidArgument"
	CodeTimeout          Code = "Timeout"
	CodeProcessFailed    Code = "ProcessFailed"
	CodePermissionDenied Code = "PermissionDenied"
	CodeOutputTooLarge   Code = "OutputTooLarge"
	CodeChildSpawnFailed Code = "ChildSpawnFailed"
)

// Error is returned by every executor entry point on failure. It always
// carries a Diagnostic per §4.1.
type Error struct {
	Code       Code
	Diagnostic Diagnostic
	Cause      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gitexec: %s: %s", e.Code, e.Diagnostic.String())
}

func (e *Error) Unwrap() error { return e.Cause }

// Kind maps the executor Code onto the service-wide plueerr taxonomy so
// front ends can branch without importing gitexec directly.
func (e *Error) Kind() plueerr.Kind {
	switch e.Code {
	case CodeInvalidArgument:
		return plueerr.KindValidation
	case CodeTimeout, CodeOutputTooLarge:
		return plueerr.KindResource
	case CodePermissionDenied:
		return plueerr.KindAuthz
	case CodeGitNotFound, CodeChildSpawnFailed:
		return plueerr.KindBackend
	default:
		return plueerr.KindBackend
	}
}

func newError(code Code, diag Diagnostic, cause error) *Error {
	return &Error{Code: code, Diagnostic: diag, Cause: cause}
}
