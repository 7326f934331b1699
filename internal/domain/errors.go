package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is matched by every not-found error below
	ErrNotFound = errors.New("not found")

	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)
	ErrAnomalyNotFound     = fmt.Errorf("anomaly %w", ErrNotFound)
	ErrAlertNotFound       = fmt.Errorf("alert %w", ErrNotFound)

	// ErrDuplicate is returned when a transaction id is ingested twice
	ErrDuplicate = errors.New("already exists")

	// ErrInvalidInput is returned before any mutation happens
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition is returned by the alert state machine
	ErrInvalidTransition = errors.New("invalid state transition")
)

// IsNotFound reports whether err is any not-found condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidInput reports whether err is a validation failure
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
