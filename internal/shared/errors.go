package shared

import (
	"errors"
	"fmt"
)

// Error kinds shared by every domain package. Package level errors wrap one of
// these so callers can classify failures with errors.Is.
var (
	// ErrNotFound indicates a missing resource or one outside the caller's company.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates a missing or malformed field.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvariantViolation indicates the operation would break a stored invariant.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrAlreadyProcessed indicates a terminal record or replayed request.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrForbidden indicates the principal's role is not allowed to act.
	ErrForbidden = errors.New("forbidden")
	// ErrDependencyFailure indicates persistence or a collaborator failed mid-operation.
	ErrDependencyFailure = errors.New("dependency failure")
)

// IsTransient reports whether a retry of the same call may succeed.
func IsTransient(err error) bool {
	return errors.Is(err, ErrDependencyFailure)
}

// Classify leaves errors that already carry a kind untouched and marks anything
// else (driver, network, commit failures) as a dependency failure for op.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range []error{ErrNotFound, ErrInvalidInput, ErrInvariantViolation, ErrAlreadyProcessed, ErrForbidden, ErrDependencyFailure} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrDependencyFailure, op, err)
}
