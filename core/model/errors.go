package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a driver or request does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateDriver is returned when registering a phone number that
	// already belongs to a driver.
	ErrDuplicateDriver = errors.New("driver already registered")

	// ErrAlreadyAssigned is returned when an accept attempt loses the race:
	// the request left PENDING before the caller's transition committed. It
	// is an expected outcome, not a system failure.
	ErrAlreadyAssigned = errors.New("request already assigned")

	// ErrNotEligible is returned when the accepting party is not a
	// registered, active driver.
	ErrNotEligible = errors.New("driver not eligible")

	// ErrInvalidTransition is returned when a lifecycle operation is applied
	// from a state that does not admit it.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoDriversAvailable is returned when a broadcast reached zero
	// recipients and the request was cancelled automatically.
	ErrNoDriversAvailable = errors.New("no drivers available")

	// ErrDriverBusy is returned when deleting a driver that still owns an
	// in-flight assigned request.
	ErrDriverBusy = errors.New("driver has an assigned request")
)

// ValidationError describes malformed input rejected before any state change.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
