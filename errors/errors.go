// Package errors provides error handling for OpenDLP.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := doSomething(); err != nil {
//	    return errors.Wrap(err, "failed to do something")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // handle not found
//	}
//
// For full documentation see: https://pkg.go.dev/github.com/cockroachdb/errors
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

// User-facing messages and details
var (
	WithHint        = crdb.WithHint
	WithHintf       = crdb.WithHintf
	WithDetail      = crdb.WithDetail
	WithDetailf     = crdb.WithDetailf
	WithSafeDetails = crdb.WithSafeDetails
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// GetReportableStackTrace extracts a stack trace suitable for diagnostics.
var GetReportableStackTrace = crdb.GetReportableStackTrace

// Common sentinel errors for use across OpenDLP.
// Use these with errors.Is() for type-safe error checking.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")

	// ErrPermissionDenied indicates the actor lacks the manage capability
	// on the assembly
	ErrPermissionDenied = New("permission denied")

	// ErrInvalidSelection indicates an invalid selection request,
	// e.g. a non-positive target count
	ErrInvalidSelection = New("invalid selection")

	// ErrMissingSettings indicates the assembly has no selection settings
	// configured
	ErrMissingSettings = New("selection settings missing")

	// ErrServiceUnavailable indicates a required service is not available
	ErrServiceUnavailable = New("service unavailable")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsPermissionDeniedError checks if an error is or wraps ErrPermissionDenied
func IsPermissionDeniedError(err error) bool {
	return err != nil && Is(err, ErrPermissionDenied)
}

// IsInvalidSelectionError checks if an error is or wraps ErrInvalidSelection
func IsInvalidSelectionError(err error) bool {
	return err != nil && Is(err, ErrInvalidSelection)
}

// NewNotFoundError creates a not-found error with a formatted message
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewInvalidSelectionError creates an invalid-selection error with a formatted message
func NewInvalidSelectionError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidSelection, Newf(format, args...).Error())
}
