package models

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the catalog wraps exactly one of
// these, so callers can classify with errors.Is regardless of the
// operation that produced it.
var (
	// ErrValidation covers schema conflicts, unsafe updates without
	// opt-in, match-rule violations and non-additive document updates.
	ErrValidation = errors.New("validation error")

	// ErrNotFound covers point-lookup misses and unknown names.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration covers malformed field definitions and fatal
	// startup problems (for example, zero storage drivers available).
	ErrConfiguration = errors.New("configuration error")

	// ErrAmbiguousMatch indicates a dataset document that matches zero
	// or more than one product without the caller disambiguating.
	ErrAmbiguousMatch = errors.New("ambiguous product match")

	// ErrUsage indicates caller misuse of the query syntax, such as a
	// source filter without a product relationship.
	ErrUsage = errors.New("usage error")
)

// Sentinel errors for entity lookups.
var (
	ErrDatasetNotFound      = fmt.Errorf("%w: dataset", ErrNotFound)
	ErrProductNotFound      = fmt.Errorf("%w: product", ErrNotFound)
	ErrMetadataTypeNotFound = fmt.Errorf("%w: metadata type", ErrNotFound)
	ErrNoDriverForScheme    = fmt.Errorf("%w: no driver for uri scheme", ErrNotFound)
)

// ValidationErrorf builds an ErrValidation with a formatted detail message.
func ValidationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// ConfigurationErrorf builds an ErrConfiguration with a formatted detail message.
func ConfigurationErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// UsageErrorf builds an ErrUsage with a formatted detail message.
func UsageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}
