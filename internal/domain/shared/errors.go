// Package shared contains common domain types, errors and events that are
// used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error that crosses a layer boundary matches exactly one
// of these with errors.Is.
var (
	// ErrNotFound: the account, problem or mutation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation: the request is malformed (negative XP, empty id, ...).
	// Never retried.
	ErrValidation = errors.New("validation error")

	// ErrNetworkUnavailable: the ledger service could not be reached.
	// The device falls back to cache / queue.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrConcurrencyConflict: an optimistic write lost the race. Retryable.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrContentUnavailable: content is neither reachable nor cached.
	ErrContentUnavailable = errors.New("content unavailable")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g. "progress", "sprint", "sync"
	Op      string // operation that failed
	Kind    error  // one of the kinds above
	Message string
	Err     error // underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching against both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validationf builds a validation error with a formatted message.
func Validationf(domain, op, format string, args ...any) *DomainError {
	return NewDomainError(domain, op, ErrValidation, fmt.Sprintf(format, args...))
}

// Progress domain errors
var (
	ErrAccountNotFound     = NewDomainError("progress", "Load", ErrNotFound, "account not found")
	ErrMutationNotFound    = NewDomainError("progress", "FindMutation", ErrNotFound, "mutation not found")
	ErrInsufficientBalance = NewDomainError("progress", "Purchase", ErrValidation, "insufficient xp balance")
	ErrItemAlreadyOwned    = NewDomainError("progress", "Purchase", ErrValidation, "item already owned")
	ErrVersionConflict     = NewDomainError("progress", "Save", ErrConcurrencyConflict, "ledger was modified concurrently")
)

// Catalog errors
var (
	ErrProblemNotFound = NewDomainError("catalog", "Get", ErrNotFound, "problem not found")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNetworkUnavailable checks if the ledger service was unreachable.
func IsNetworkUnavailable(err error) bool {
	return errors.Is(err, ErrNetworkUnavailable)
}

// IsConcurrencyConflict checks for a lost optimistic write.
func IsConcurrencyConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrNetworkUnavailable)
}
