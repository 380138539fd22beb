// Package gwerrors defines SARK's error taxonomy: a single tagged error type
// with a stable Kind discriminator, instead of a hierarchy of exception types.
package gwerrors

import (
	"errors"
	"fmt"
)

// Kind is the stable discriminator for a gateway error.
type Kind string

const (
	KindAuthentication    Kind = "authentication_error"
	KindAuthorization     Kind = "authorization_error"
	KindValidation        Kind = "validation_error"
	KindRateLimitExceeded Kind = "rate_limit_exceeded"
	KindBudgetExceeded    Kind = "budget_exceeded"
	KindAdapterConnection Kind = "adapter_connection_error"
	KindAdapterTimeout    Kind = "adapter_timeout_error"
	KindAdapterProtocol   Kind = "adapter_protocol_error"
	KindCircuitOpen       Kind = "circuit_open"
	KindSandboxViolation  Kind = "sandbox_violation"
	KindInternal          Kind = "internal_error"
)

// Error is SARK's sum-type error: one struct, a Kind discriminator, and a
// per-kind Details payload. Never cross a trust boundary with a raw Go
// stack trace or secret material in Message/Details.
type Error struct {
	Kind    Kind
	Op      string // operation that failed, e.g. "orchestrator.Authorize"
	Message string
	Details map[string]interface{}
	Err     error // wrapped cause, for errors.Is/As
}

func (e *Error) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a tagged gateway error.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap constructs a tagged gateway error around an underlying cause.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// WithDetails attaches structured, non-secret details to the error.
func (e *Error) WithDetails(details map[string]interface{}) *Error {
	e.Details = details
	return e
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, or KindInternal if err isn't a gateway Error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindInternal
}

// Retryable reports whether the error class is one the Protocol Adapter's
// retry wrapper should retry (connection loss, timeout, selected 5xx).
// Authn/authz/schema errors are never retryable.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindAdapterConnection, KindAdapterTimeout:
		return true
	default:
		return false
	}
}
