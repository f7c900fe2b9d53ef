/*
errors.go - Centralized error types for the settlement engine

ERROR CATEGORIES:
  1. Validation errors - detected before any I/O, nothing touched
  2. Authorization errors - detected before the transaction, nothing touched
  3. Transaction errors - conflict/abort; a failed commit persists nothing
  4. Reconciliation errors - logged only, never surfaced

USAGE:
  if errors.Is(err, engine.ErrSaveFailed) {
      // no partial write happened, safe to retry
  }
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is wrapped by every *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is wrapped by every *AuthorizationError.
	ErrUnauthorized = errors.New("not authorized")

	// ErrConcurrentModification is returned by Store.Commit when a document
	// read by the transaction changed before the commit.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrSaveFailed is returned when a transaction still conflicts after
	// all retries. No partial state survives.
	ErrSaveFailed = errors.New("save failed")

	// ErrReadAfterWrite is returned when a transaction body reads after it
	// has started writing.
	ErrReadAfterWrite = errors.New("transaction read issued after first write")

	// ErrActivityNotFound is returned when a referenced activity doesn't exist.
	ErrActivityNotFound = errors.New("activity not found")

	// ErrMovementNotFound is returned when an owned movement is missing.
	ErrMovementNotFound = errors.New("movement not found")

	// ErrUnknownReportType is returned for unregistered activity types.
	ErrUnknownReportType = errors.New("unknown report type")

	// ErrScheduleCompleted is returned when a change would invalidate the
	// settlement of an already paired completion.
	ErrScheduleCompleted = errors.New("schedule already has a completion report")

	// ErrUploadFailed is returned when staging attachments fails.
	ErrUploadFailed = errors.New("upload failed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError lists every field problem found before any I/O.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add records a problem.
func (e *ValidationError) Add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// OrNil returns nil when no problem was recorded.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Problems) == 0 {
		return nil
	}
	return e
}

// AuthorizationError explains why an actor may not modify an activity.
type AuthorizationError struct {
	ActorID    string
	ActivityID string
	Reason     string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("actor %s may not modify activity %s: %s", e.ActorID, e.ActivityID, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrUnauthorized }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrSaveFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownReportType) ||
		errors.Is(err, ErrScheduleCompleted)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrActivityNotFound)
}
