package rates

import (
	"context"

	"github.com/warp/timesheet-engine/engine"
)

// Truncation closes an incumbent record in the same commit that
// inserts its replacement, so a failure between the two writes can
// never leave a gap in the timeline.
type Truncation struct {
	ID  string
	End engine.Date
}

// Store is the persistence surface the resolver and the timeline
// protocol need. Implementations must treat the band pointer as part
// of the scope key: nil matches only the unbanded scope, never "any".
type Store interface {
	// GetCandidate returns the candidate record or nil if unknown.
	GetCandidate(ctx context.Context, id string) (*engine.Candidate, error)

	// GetWindow returns the window row regardless of its disabled
	// state, or nil if unknown.
	GetWindow(ctx context.Context, id string) (*ClientRateWindow, error)

	// ActiveWindow returns the enabled window for the exact scope
	// covering the date, or nil. Disabled windows are never returned.
	ActiveWindow(ctx context.Context, clientID, role string, band *string, on engine.Date) (*ClientRateWindow, error)

	// NextWindowAfter returns the earliest enabled window for the scope
	// starting strictly after the date, or nil.
	NextWindowAfter(ctx context.Context, clientID, role string, band *string, after engine.Date) (*ClientRateWindow, error)

	// InsertWindow persists a new window row, applying the incumbent
	// truncation in the same transaction when truncate is non-nil.
	InsertWindow(ctx context.Context, w ClientRateWindow, truncate *Truncation) error

	// SetWindowDisabled soft-disables (or re-enables) a window.
	SetWindowDisabled(ctx context.Context, id string, disabled bool) error

	// ActiveOverride returns the override for the exact scope covering
	// the date, or nil.
	ActiveOverride(ctx context.Context, candidateID, clientID, role string, band *string, ch engine.PayChannel, on engine.Date) (*CandidateRateOverride, error)

	// NextOverrideAfter returns the earliest override for the scope
	// starting strictly after the date, or nil.
	NextOverrideAfter(ctx context.Context, candidateID, clientID, role string, band *string, ch engine.PayChannel, after engine.Date) (*CandidateRateOverride, error)

	// InsertOverride persists a new override row, applying the
	// incumbent truncation in the same transaction when truncate is
	// non-nil.
	InsertOverride(ctx context.Context, o CandidateRateOverride, truncate *Truncation) error
}
