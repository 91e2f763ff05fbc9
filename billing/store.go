package billing

import (
	"context"
	"time"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/snapshot"
)

// Store is the persistence surface for the gate and the lock manager.
// CreateInvoice and CreateCreditNote must be atomic: either every
// write inside them lands or none does.
type Store interface {
	FeatureFlags(ctx context.Context) (engine.FeatureFlags, error)
	ValidationRecord(ctx context.Context, timesheetID string) (*ValidationRecord, error)

	GetTimesheet(ctx context.Context, id string) (*engine.Timesheet, error)
	GetCandidate(ctx context.Context, id string) (*engine.Candidate, error)
	CurrentSnapshot(ctx context.Context, timesheetID string) (*snapshot.FinancialSnapshot, error)

	// PromoteSnapshot conditionally advances a current READY_FOR_HR
	// snapshot to READY_FOR_INVOICE. Returns engine.ErrInvoiceState if
	// the snapshot is no longer in the required state.
	PromoteSnapshot(ctx context.Context, snapshotID string) error

	// CreateInvoice persists the invoice and its lines and stamps every
	// referenced snapshot's lock in one transaction. Each lock stamp is
	// conditional on the snapshot still being current, unlocked and
	// READY_FOR_INVOICE; any miss rolls the whole transaction back with
	// engine.ErrSnapshotLocked.
	CreateInvoice(ctx context.Context, inv Invoice, lines []Line) error

	GetInvoice(ctx context.Context, id string) (*Invoice, error)
	InvoiceLines(ctx context.Context, invoiceID string) ([]Line, error)

	// CreditNoteForInvoice returns the credit note already issued
	// against an invoice, or nil. An invoice is reversed at most once.
	CreditNoteForInvoice(ctx context.Context, invoiceID string) (*CreditNote, error)

	// SetInvoiceStatus conditionally moves an invoice from one status
	// to another. Returns engine.ErrInvoiceState when the invoice is
	// not in the expected status.
	SetInvoiceStatus(ctx context.Context, id string, from, to InvoiceStatus) error

	// CreateCreditNote persists the credit note and its lines, clears
	// the lock on every snapshot held by the invoice and marks them
	// stale, in one transaction. It returns the timesheet ids whose
	// snapshots were released.
	CreateCreditNote(ctx context.Context, cn CreditNote, lines []CreditLine) ([]string, error)

	// Enqueue schedules a recompute for a released timesheet.
	Enqueue(ctx context.Context, timesheetID string, reason outbox.Reason, now time.Time) error
}
