/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All sentinel errors in one place. Domain packages wrap these with
  structured errors carrying the identifying context (which window
  blocked an insert, which invoice holds a lock).

ERROR CATEGORIES:
  1. Input errors   - malformed requests, rejected synchronously
  2. Conflicts      - overlapping windows, already-locked snapshots
  3. Missing data   - no rate window, unknown records

  Resolution gaps (no rate, no client) are deliberately NOT errors at
  the snapshot level - they become processing-status values. The
  sentinels here exist for the resolver and the administrative write
  paths, where a caller must react immediately.
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingRate is returned when no active rate window covers a
	// resolution date. Callers surface this as a missing-rate state,
	// never as a zero rate.
	ErrMissingRate = errors.New("no active rate window")

	// ErrWindowConflict is returned when a window or override insert
	// collides with the existing timeline for its scope.
	ErrWindowConflict = errors.New("rate window conflict")

	// ErrSnapshotLocked is returned when invoice creation loses the
	// race for a snapshot's lock.
	ErrSnapshotLocked = errors.New("snapshot locked by another invoice")

	// ErrMixedClients is returned when an invoice would span more than
	// one billed client.
	ErrMixedClients = errors.New("snapshots span multiple clients")

	// ErrNothingToInvoice is returned when no eligible snapshot exists
	// among the requested timesheets.
	ErrNothingToInvoice = errors.New("no invoiceable snapshots")

	// ErrInvoiceState is returned on an invalid invoice status
	// transition.
	ErrInvoiceState = errors.New("invoice not in required state")

	// ErrTimesheetNotFound is returned when a referenced timesheet has
	// no current version.
	ErrTimesheetNotFound = errors.New("timesheet not found")

	// ErrCandidateNotFound is returned when a referenced candidate
	// record does not exist.
	ErrCandidateNotFound = errors.New("candidate not found")

	// ErrClientNotFound is returned when a referenced client record
	// does not exist.
	ErrClientNotFound = errors.New("client not found")

	// ErrInvoiceNotFound is returned when a referenced invoice does not
	// exist.
	ErrInvoiceNotFound = errors.New("invoice not found")

	// ErrWindowNotFound is returned when a referenced rate window does
	// not exist.
	ErrWindowNotFound = errors.New("rate window not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// FieldError rejects a malformed request with a field-level reason.
// Nothing is partially applied when a FieldError is returned.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConflict reports whether the error is a concurrency or timeline
// conflict that identifies a blocking record.
func IsConflict(err error) bool {
	return errors.Is(err, ErrWindowConflict) ||
		errors.Is(err, ErrSnapshotLocked) ||
		errors.Is(err, ErrInvoiceState)
}

// IsNotFound reports whether the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTimesheetNotFound) ||
		errors.Is(err, ErrCandidateNotFound) ||
		errors.Is(err, ErrClientNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrWindowNotFound)
}

// IsInputError reports whether the error is due to invalid caller input.
func IsInputError(err error) bool {
	var fe *FieldError
	return errors.As(err, &fe)
}
