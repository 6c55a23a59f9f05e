// Package errors provides error handling for statesync.
//
// This package re-exports github.com/cockroachdb/errors, providing:
//   - Stack traces for debugging
//   - Error wrapping and context
//   - PII-safe error formatting
//   - Network portability for distributed systems
//
// Usage:
//
//	// Create new error
//	err := errors.New("something went wrong")
//
//	// Wrap with context
//	if err := store.Merge(update); err != nil {
//	    return errors.Wrap(err, "failed to apply remote state")
//	}
//
//	// Add hints for users
//	return errors.WithHint(err, "arrays are not supported, use a keyed mapping")
//
//	// Check errors
//	if errors.Is(err, errors.ErrShape) {
//	    // reject the update
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
	WithHint           = crdb.WithHint
	WithHintf          = crdb.WithHintf
	WithDetail         = crdb.WithDetail
	WithDetailf        = crdb.WithDetailf
	WithSecondaryError = crdb.WithSecondaryError
)

// Error inspection
var (
	Is             = crdb.Is
	IsAny          = crdb.IsAny
	As             = crdb.As
	Unwrap         = crdb.Unwrap
	UnwrapOnce     = crdb.UnwrapOnce
	UnwrapAll      = crdb.UnwrapAll
	GetAllHints    = crdb.GetAllHints
	GetAllDetails  = crdb.GetAllDetails
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Assertions and panics
var (
	AssertionFailedf = crdb.AssertionFailedf
)

// Sentinel errors for the state and sync layers.
// Wrap these with errors.Wrap() to add context while preserving the type.
var (
	// ErrShape indicates a state or update that is not a plain,
	// JSON-serializable mapping (arrays, functions, class instances...)
	ErrShape = New("invalid state shape")

	// ErrInvalidConfiguration indicates a channel was constructed with an
	// unusable configuration, such as one store used as both writable and read-only
	ErrInvalidConfiguration = New("invalid configuration")

	// ErrDivergenceTimeout marks a verification deadline that elapsed without
	// a matching fingerprint. It is only ever logged, never returned to callers.
	ErrDivergenceTimeout = New("divergence timeout")

	// ErrDestroyed indicates an operation on a store or channel after teardown
	ErrDestroyed = New("destroyed")
)

// IsShapeError checks if an error is or wraps ErrShape
func IsShapeError(err error) bool {
	return err != nil && Is(err, ErrShape)
}

// IsInvalidConfigurationError checks if an error is or wraps ErrInvalidConfiguration
func IsInvalidConfigurationError(err error) bool {
	return err != nil && Is(err, ErrInvalidConfiguration)
}

// IsDestroyedError checks if an error is or wraps ErrDestroyed
func IsDestroyedError(err error) bool {
	return err != nil && Is(err, ErrDestroyed)
}

// NewInvalidConfigurationError creates an invalid-configuration error with a formatted message
func NewInvalidConfigurationError(format string, args ...interface{}) error {
	return Wrap(ErrInvalidConfiguration, Newf(format, args...).Error())
}
