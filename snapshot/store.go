package snapshot

import (
	"context"

	"github.com/warp/timesheet-engine/engine"
)

// Store is the persistence surface the Writer needs.
type Store interface {
	// GetTimesheet returns the current version of a timesheet, or nil
	// if no current version exists.
	GetTimesheet(ctx context.Context, id string) (*engine.Timesheet, error)

	// GetCandidate returns the candidate record or nil if unknown.
	GetCandidate(ctx context.Context, id string) (*engine.Candidate, error)

	// GetClient returns the client record (with its pay-time policy)
	// or nil if unknown.
	GetClient(ctx context.Context, id string) (*engine.Client, error)

	// SaveSnapshot atomically supersedes the prior current snapshot for
	// the timesheet and inserts the new one. A locked current snapshot
	// is never superseded: the new row is inserted as non-current and
	// the invoiced fact stays authoritative until a credit note
	// releases it.
	SaveSnapshot(ctx context.Context, snap FinancialSnapshot) (FinancialSnapshot, error)

	// CurrentSnapshot returns the current snapshot for a timesheet, or
	// nil if none has been computed yet.
	CurrentSnapshot(ctx context.Context, timesheetID string) (*FinancialSnapshot, error)
}
