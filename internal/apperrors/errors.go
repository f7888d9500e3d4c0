// Package apperrors defines the error kinds every operation reports to its caller.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a stable, machine readable error category
type Kind string

const (
	KindValidation           Kind = "validation"
	KindConflict             Kind = "conflict"
	KindNotFound             Kind = "not_found"
	KindInvalidTransition    Kind = "invalid_transition"
	KindIntegrity            Kind = "integrity"
	KindStorageInconsistency Kind = "storage_inconsistency"
	KindAuthorization        Kind = "authorization"
	KindUnauthenticated      Kind = "unauthenticated"
	KindInternal             Kind = "internal"
)

// Error is the error type returned across package boundaries
type Error struct {
	Kind    Kind
	Message string
	// Fields holds per-field detail for validation errors
	Fields map[string]string
	Err    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound}) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// StatusCode maps the kind to an HTTP status
func (e *Error) StatusCode() int {
	return StatusFor(e.Kind)
}

// StatusFor maps an error kind to an HTTP status
func StatusFor(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	case KindIntegrity:
		return http.StatusUnprocessableEntity
	case KindStorageInconsistency:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is checks
var (
	ErrValidation           = &Error{Kind: KindValidation}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrInvalidTransition    = &Error{Kind: KindInvalidTransition}
	ErrIntegrity            = &Error{Kind: KindIntegrity}
	ErrStorageInconsistency = &Error{Kind: KindStorageInconsistency}
	ErrAuthorization        = &Error{Kind: KindAuthorization}
	ErrUnauthenticated      = &Error{Kind: KindUnauthenticated}
)

// Validation creates a validation error with optional field detail
func Validation(message string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

// Conflict creates a duplicate key error
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFound creates an error for a missing referenced entity
func NotFound(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// InvalidTransition creates a job state machine misuse error
func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("cannot transition job from %s to %s", from, to),
	}
}

// Integrity creates a hashing, authentication or encryption failure
func Integrity(message string, err error) *Error {
	return &Error{Kind: KindIntegrity, Message: message, Err: err}
}

// StorageInconsistency creates a partial write error
func StorageInconsistency(message string, err error) *Error {
	return &Error{Kind: KindStorageInconsistency, Message: message, Err: err}
}

// Authorization creates an error for a caller lacking a capability
func Authorization(message string) *Error {
	return &Error{Kind: KindAuthorization, Message: message}
}

// Unauthenticated creates an error for a request without a usable identity
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// Internal wraps an unexpected failure
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal for foreign errors
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
