package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/snapshot"
)

// =============================================================================
// INVOICE LOCK MANAGER
// =============================================================================

// Manager creates invoices from lock-eligible snapshots and reverses
// them with credit notes.
type Manager struct {
	store Store
	log   zerolog.Logger
}

func NewManager(store Store, log zerolog.Logger) *Manager {
	return &Manager{store: store, log: log}
}

// CreateInvoice selects the current, unlocked, READY_FOR_INVOICE
// snapshots among the given timesheets, persists a DRAFT invoice and
// atomically stamps each snapshot's lock. It rejects mixed-client
// batches before anything is written.
func (m *Manager) CreateInvoice(ctx context.Context, timesheetIDs []string) (*Invoice, error) {
	snaps, err := m.eligibleSnapshots(ctx, timesheetIDs)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, engine.ErrNothingToInvoice
	}

	clientID := snaps[0].ClientID
	for _, s := range snaps {
		if s.ClientID != clientID {
			return nil, &MixedClientsError{ClientA: clientID, ClientB: s.ClientID}
		}
	}

	inv := Invoice{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Status:    InvoiceDraft,
		CreatedAt: time.Now().UTC(),
	}
	lines := make([]Line, 0, len(snaps))
	total := decimal.Zero
	for _, s := range snaps {
		amount := s.LineAmount()
		lines = append(lines, Line{
			ID:          uuid.NewString(),
			InvoiceID:   inv.ID,
			SnapshotID:  s.ID,
			TimesheetID: s.TimesheetID,
			Amount:      amount,
		})
		total = total.Add(amount)
	}
	inv.Total = total

	if err := m.store.CreateInvoice(ctx, inv, lines); err != nil {
		return nil, err
	}

	m.log.Info().
		Str("invoice_id", inv.ID).
		Str("client_id", clientID).
		Int("lines", len(lines)).
		Str("total", total.String()).
		Msg("invoice created")
	return &inv, nil
}

// eligibleSnapshots collects the invoiceable snapshots for the given
// timesheets. Ineligible timesheets are skipped, not errors: the
// caller asked "invoice whatever is ready among these".
func (m *Manager) eligibleSnapshots(ctx context.Context, timesheetIDs []string) ([]snapshot.FinancialSnapshot, error) {
	var out []snapshot.FinancialSnapshot
	for _, id := range timesheetIDs {
		s, err := m.store.CurrentSnapshot(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("loading snapshot for %s: %w", id, err)
		}
		if s == nil || s.Locked() || s.Status != snapshot.StatusReadyForInvoice {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

// IssueCreditNote reverses an invoice: it writes a credit note whose
// lines mirror the invoice's with negated amounts, releases every
// snapshot lock, marks the snapshots stale and enqueues a fresh
// recompute for each released timesheet. A released snapshot is never
// reused without re-validation against current rates and policy.
func (m *Manager) IssueCreditNote(ctx context.Context, invoiceID string) (*CreditNote, error) {
	inv, err := m.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("loading invoice %s: %w", invoiceID, err)
	}
	if inv == nil {
		return nil, engine.ErrInvoiceNotFound
	}

	// An invoice is reversed at most once: a second note would insert
	// another negated mirror while releasing nothing.
	existing, err := m.store.CreditNoteForInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("checking credit notes for %s: %w", invoiceID, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("invoice %s already credited by %s: %w",
			invoiceID, existing.ID, engine.ErrInvoiceState)
	}

	lines, err := m.store.InvoiceLines(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("loading lines for %s: %w", invoiceID, err)
	}

	cn := CreditNote{
		ID:        uuid.NewString(),
		InvoiceID: invoiceID,
		Total:     inv.Total.Neg(),
		CreatedAt: time.Now().UTC(),
	}
	creditLines := make([]CreditLine, 0, len(lines))
	for _, l := range lines {
		creditLines = append(creditLines, CreditLine{
			ID:           uuid.NewString(),
			CreditNoteID: cn.ID,
			SnapshotID:   l.SnapshotID,
			TimesheetID:  l.TimesheetID,
			Amount:       l.Amount.Neg(),
		})
	}

	released, err := m.store.CreateCreditNote(ctx, cn, creditLines)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, tsID := range released {
		if err := m.store.Enqueue(ctx, tsID, outbox.ReasonContextChanged, now); err != nil {
			return nil, fmt.Errorf("enqueueing recompute for %s: %w", tsID, err)
		}
	}

	m.log.Info().
		Str("credit_note_id", cn.ID).
		Str("invoice_id", invoiceID).
		Int("released", len(released)).
		Msg("credit note issued")
	return &cn, nil
}

// =============================================================================
// INVOICE STATUS TRANSITIONS
// =============================================================================

// Issue moves a DRAFT invoice to ISSUED.
func (m *Manager) Issue(ctx context.Context, invoiceID string) error {
	return m.store.SetInvoiceStatus(ctx, invoiceID, InvoiceDraft, InvoiceIssued)
}

// Hold moves an ISSUED invoice to ON_HOLD.
func (m *Manager) Hold(ctx context.Context, invoiceID string) error {
	return m.store.SetInvoiceStatus(ctx, invoiceID, InvoiceIssued, InvoiceOnHold)
}

// Resume moves an ON_HOLD invoice back to ISSUED.
func (m *Manager) Resume(ctx context.Context, invoiceID string) error {
	return m.store.SetInvoiceStatus(ctx, invoiceID, InvoiceOnHold, InvoiceIssued)
}

// MarkPaid moves an ISSUED invoice to PAID.
func (m *Manager) MarkPaid(ctx context.Context, invoiceID string) error {
	return m.store.SetInvoiceStatus(ctx, invoiceID, InvoiceIssued, InvoicePaid)
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// MixedClientsError rejects an invoice spanning more than one client.
// Nothing is locked or written when it is returned.
type MixedClientsError struct {
	ClientA string
	ClientB string
}

func (e *MixedClientsError) Error() string {
	return fmt.Sprintf("invoice would span clients %s and %s", e.ClientA, e.ClientB)
}

func (e *MixedClientsError) Unwrap() error { return engine.ErrMixedClients }

// LockConflictError identifies the invoice already holding a snapshot.
type LockConflictError struct {
	SnapshotID string
	LockedBy   string
}

func (e *LockConflictError) Error() string {
	return fmt.Sprintf("snapshot %s is locked by invoice %s", e.SnapshotID, e.LockedBy)
}

func (e *LockConflictError) Unwrap() error { return engine.ErrSnapshotLocked }
