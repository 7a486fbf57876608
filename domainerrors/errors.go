/*
errors.go - Coded errors shared by every package of the engine

PURPOSE:
  All caller-visible failures carry a stable Code. Components wrap lower-level
  errors (driver, context, validator) with a Code so callers can tell
  "the database is unreachable" apart from "the business rule rejected this
  affectation" without string matching.

ERROR CATEGORIES:
  1. Client errors   - VALIDATION, INVALID_HIERARCHY, NOT_FOUND, CONFLICT,
                       HIERARCHY_CONFLICT, PERIOD_CONFLICT, NO_OPEN_PERIOD,
                       REGISTRATION_FAILED
  2. Systemic errors - CONSISTENCY (write and audit paths disagree), INTERNAL
  3. Transport       - TRANSPORT (store unreachable or timed out)

RETRY POLICY:
  Only TRANSPORT is retryable, and only for read-only steps. The privileged
  write is never retried: there is no idempotency on the store side.

USAGE:
  if err := hierarchy.ValidateChain(ctx, key); err != nil {
      return nil, err // already coded INVALID_HIERARCHY or TRANSPORT
  }
  return nil, dErrors.Wrap(err, dErrors.CodeTransport, "audit read failed")

SEE ALSO:
  - api/handlers.go: HTTPStatus mapping at the transport boundary
  - afectacion/registrar.go: classification of write and verify failures
*/
package domainerrors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, caller-visible error classification.
type Code string

const (
	CodeValidation         Code = "VALIDATION"
	CodeInvalidHierarchy   Code = "INVALID_HIERARCHY"
	CodeNotFound           Code = "NOT_FOUND"
	CodeConflict           Code = "CONFLICT"
	CodeHierarchyConflict  Code = "HIERARCHY_CONFLICT"
	CodePeriodConflict     Code = "PERIOD_CONFLICT"
	CodeNoOpenPeriod       Code = "NO_OPEN_PERIOD"
	CodeRegistrationFailed Code = "REGISTRATION_FAILED"
	CodeConsistency        Code = "CONSISTENCY"
	CodeTransport          Code = "TRANSPORT"
	CodeInternal           Code = "INTERNAL"
)

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is a coded error. Message is safe to show to callers; Err holds the
// internal cause and is only logged.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error without an underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf is New with fmt formatting.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and a caller-safe message to err. Returns nil for a nil err.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// =============================================================================
// HELPERS
// =============================================================================

// CodeOf returns the outermost code found in the chain, or INTERNAL for
// uncoded errors. Context cancellation and deadlines are TRANSPORT.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CodeTransport
	}
	return CodeInternal
}

// HasCode reports whether the outermost coded error in the chain has code.
func HasCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// IsRetryable reports whether a read-only step may be retried after err.
func IsRetryable(err error) bool {
	return HasCode(err, CodeTransport)
}

// IsClientError reports whether err was caused by the caller's input or the
// current business state rather than by the system.
func IsClientError(err error) bool {
	switch CodeOf(err) {
	case CodeValidation, CodeInvalidHierarchy, CodeNotFound, CodeConflict,
		CodeHierarchyConflict, CodePeriodConflict, CodeNoOpenPeriod,
		CodeRegistrationFailed:
		return true
	}
	return false
}

// HTTPStatus maps a code onto the transport status used by the API.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidHierarchy:
		return http.StatusBadRequest
	case CodeNotFound, CodeNoOpenPeriod:
		return http.StatusNotFound
	case CodeConflict, CodeHierarchyConflict, CodePeriodConflict:
		return http.StatusConflict
	case CodeRegistrationFailed:
		return http.StatusUnprocessableEntity
	case CodeTransport:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
