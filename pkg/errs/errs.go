// Package errs implements Trinity's closed error-kind taxonomy. Every
// failure that crosses a component boundary (step handlers, the engine,
// the HTTP surface) is classified into one of these kinds so retry policy
// and status-code mapping can switch on it rather than string-matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is the closed set of error classifications used across Trinity.
// Do not add values without updating retry policy (defaultRetryableKinds
// below and pkg/engine) and
// the HTTP status mapping (pkg/api).
type Kind string

const (
	Validation        Kind = "validation"
	AuthorizationDenied Kind = "authorization_denied"
	NotFound           Kind = "not_found"
	StateConflict      Kind = "state_conflict"
	ExpressionError    Kind = "expression_error"
	Timeout            Kind = "timeout"
	RateLimit          Kind = "rate_limit"
	AgentUnavailable   Kind = "agent_unavailable"
	QueueFull          Kind = "queue_full"
	BudgetExceeded     Kind = "budget_exceeded"
	NoMatchingRoute    Kind = "no_matching_route"
	Cancelled          Kind = "cancelled"
	InternalError      Kind = "internal_error"
)

// Error is a classified error carrying a Kind plus a human message and
// optional wrapped cause. It is the currency handlers and the engine pass
// around instead of raw errors.
type Error struct {
	Kind    Kind
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

// New builds a classified error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds a classified error around an existing cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to InternalError for
// anything not produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}

// Is reports whether err (or anything it wraps) is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// defaultRetryableKinds is the set of kinds retried by default when a
// step's retry policy does not declare retryable_kinds explicitly.
var defaultRetryableKinds = map[Kind]bool{
	Timeout:          true,
	RateLimit:        true,
	AgentUnavailable: true,
	QueueFull:        true,
}

// DefaultRetryable reports whether kind is retried absent an explicit
// retryable_kinds/non_retryable_kinds override on the step's retry policy.
func DefaultRetryable(kind Kind) bool {
	return defaultRetryableKinds[kind]
}

// ValidationError reports a single field-level validation failure. Many
// validation errors are usually joined with errors.Join before being
// classified into an *Error for the caller.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a classified Validation error wrapping one or
// more field errors.
func NewValidationError(fieldErrors ...error) *Error {
	return Wrap(Validation, "validation failed", errors.Join(fieldErrors...))
}
