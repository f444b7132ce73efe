// Package errors provides error handling for basilisk.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - Hints and details for operator-facing messages
//   - Sentinel errors shared across the knowledge base
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := store.Save(obs); err != nil {
//	    return errors.Wrap(err, "failed to save observable")
//	}
//
//	// Check errors
//	if errors.Is(err, errors.ErrNotFound) {
//	    // fall back to the create path
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

// Advanced features
var (
	CombineErrors           = crdb.CombineErrors
	Join                    = crdb.Join
	GetReportableStackTrace = crdb.GetReportableStackTrace
)

// Sentinel errors shared across basilisk packages.
// Domain-specific sentinels (invalid context, unknown observable type)
// live next to the code that raises them; these cover cross-cutting cases.
var (
	// ErrNotFound indicates a requested record does not exist.
	// Store read paths return this instead of leaking sql.ErrNoRows.
	ErrNotFound = New("not found")

	// ErrValidation indicates malformed caller input. Surfaced to the
	// caller unchanged; never retried.
	ErrValidation = New("validation failed")

	// ErrConflict indicates a resource conflict (e.g., duplicate key).
	ErrConflict = New("resource conflict")
)

// IsNotFoundError checks if an error is or wraps ErrNotFound.
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}

// IsValidationError checks if an error is or wraps ErrValidation.
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// NewNotFoundError creates a not-found error with a formatted message.
func NewNotFoundError(format string, args ...interface{}) error {
	return Wrap(ErrNotFound, Newf(format, args...).Error())
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Wrap(ErrValidation, Newf(format, args...).Error())
}
