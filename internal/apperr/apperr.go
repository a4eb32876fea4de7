// Package apperr defines the error taxonomy shared by the diary services.
// Every service failure is an *Error carrying a Kind the transport layer can
// branch on and an operation.reason code used as the public diagnostic.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a service failure.
type Kind int

const (
	// KindInternal covers unexpected storage or collaborator failures.
	KindInternal Kind = iota
	// KindUnauthorized indicates a missing or invalid caller identity.
	KindUnauthorized
	// KindConsentRequired indicates absent or stale consent.
	KindConsentRequired
	// KindValidation indicates malformed caller input.
	KindValidation
	// KindRateLimited indicates the monthly upload quota is exhausted.
	KindRateLimited
	// KindNotFound indicates an unrecognized operation or resource.
	KindNotFound
)

// Error is the concrete error type returned by all services.
type Error struct {
	kind Kind
	code string
	err  error

	// RequiredVersion accompanies KindConsentRequired.
	RequiredVersion string
	// Limit and Current accompany KindRateLimited.
	Limit   int64
	Current int64
}

// New builds an Error with the given kind and operation.reason code.
func New(kind Kind, operation, reason string, cause error) *Error {
	return &Error{
		kind: kind,
		code: fmt.Sprintf("%s.%s", operation, reason),
		err:  cause,
	}
}

// Internal builds a KindInternal error.
func Internal(operation, reason string, cause error) *Error {
	return New(KindInternal, operation, reason, cause)
}

// Validation builds a KindValidation error.
func Validation(operation, reason string, cause error) *Error {
	return New(KindValidation, operation, reason, cause)
}

// ConsentRequired builds a KindConsentRequired error carrying the version the
// caller must re-accept.
func ConsentRequired(operation, requiredVersion string) *Error {
	e := New(KindConsentRequired, operation, "consent_required", nil)
	e.RequiredVersion = requiredVersion
	return e
}

// RateLimited builds a KindRateLimited error carrying current usage.
func RateLimited(operation string, limit, current int64) *Error {
	e := New(KindRateLimited, operation, "limit_exceeded", nil)
	e.Limit = limit
	e.Current = current
	return e
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.err
}

// Kind returns the taxonomy classification.
func (e *Error) Kind() Kind {
	return e.kind
}

// Code returns the operation.reason diagnostic string.
func (e *Error) Code() string {
	return e.code
}

// KindOf extracts the Kind from any error, treating non-taxonomy errors as
// internal failures.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.kind
	}
	return KindInternal
}

// CodeOf extracts the diagnostic code from any error.
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.code
	}
	return "internal"
}
