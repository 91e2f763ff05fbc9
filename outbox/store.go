package outbox

import (
	"context"
	"time"
)

// Store is the lease-queue persistence surface. Lease must be a
// conditional update so two drains can never hold the same item at
// once; it is the only concurrency defence the processor relies on.
type Store interface {
	// Enqueue records a recompute request, coalescing with any pending
	// item for the same (timesheet, reason). Re-enqueueing a parked
	// item revives it with a fresh attempt budget.
	Enqueue(ctx context.Context, timesheetID string, reason Reason, now time.Time) error

	// Lease claims up to limit unleased, visible, unparked items,
	// oldest first, marking each invisible until the given deadline.
	Lease(ctx context.Context, limit int, now, until time.Time) ([]Item, error)

	// Ack deletes a successfully processed item, conditional on the
	// epoch observed at lease time. An enqueue that coalesced into the
	// item mid-lease bumps the epoch; the miss keeps the refreshed item
	// for the next drain.
	Ack(ctx context.Context, id string, epoch int64) error

	// Nack releases a failed item, incrementing its attempt counter and
	// hiding it until nextVisible.
	Nack(ctx context.Context, id string, nextVisible time.Time, lastError string) error

	// Park shelves an item that exhausted its retries. Parked items are
	// kept for manual inspection and never leased.
	Park(ctx context.Context, id string, lastError string) error

	// ParkedItems lists parked items for inspection.
	ParkedItems(ctx context.Context) ([]Item, error)
}
