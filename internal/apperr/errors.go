// Package apperr defines the error taxonomy shared by stores, services and transports.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both absent entities and entities the caller does not own.
	ErrNotFound = errors.New("not found")
	// ErrPageNotFound is returned when the parent page is absent or not owned.
	ErrPageNotFound = fmt.Errorf("page %w", ErrNotFound)
	// ErrContentNotFound is returned when the page exists but has no content row yet.
	ErrContentNotFound = fmt.Errorf("content %w", ErrNotFound)

	ErrVersionConflict = errors.New("version conflict")
	ErrAlreadyExists   = errors.New("already exists")
	ErrValidation      = errors.New("validation failed")

	// ErrUnauthenticated means no verifiable identity was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnprovisioned means the identity is valid but maps to no owner.
	ErrUnprovisioned = errors.New("identity not provisioned")

	// ErrTransient marks failures that are safe to retry with backoff.
	ErrTransient = errors.New("transient failure")
)

// Transient wraps err so that errors.Is(err, ErrTransient) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Validation wraps err so that errors.Is(err, ErrValidation) holds.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, err)
}
