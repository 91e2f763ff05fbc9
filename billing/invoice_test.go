package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/snapshot"
)

// promote readies the given timesheets for invoicing.
func (f *fixture) promote(t *testing.T, ids ...string) {
	t.Helper()
	res, err := f.gate.TryPromote(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, res.Promoted, len(ids), "blocked: %+v", res.Blocked)
}

// leaseAll claims every pending outbox item, regardless of visibility.
func leaseAll(t *testing.T, f *fixture) []outbox.Item {
	t.Helper()
	far := time.Now().UTC().Add(time.Hour)
	items, err := f.store.Lease(context.Background(), 100, far, far.Add(time.Minute))
	require.NoError(t, err)
	return items
}

// drainAll acknowledges every pending outbox item.
func drainAll(t *testing.T, f *fixture) {
	t.Helper()
	for _, item := range leaseAll(t, f) {
		require.NoError(t, f.store.Ack(context.Background(), item.ID, item.Epoch))
	}
}

// =============================================================================
// INVOICE CREATION AND LOCKING
// =============================================================================

func TestCreateInvoice_LocksSnapshotsAndSumsLines(t *testing.T) {
	// GIVEN: Two promoted timesheets for one client (8h day at charge 30)
	// WHEN: Creating an invoice
	// THEN: A DRAFT invoice totalling 480 exists and both snapshots are locked

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.seedShift(t, "ts-2", "cand-1", "client-1", nil)
	f.promote(t, "ts-1", "ts-2")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1", "ts-2"})
	require.NoError(t, err)

	assert.Equal(t, billing.InvoiceDraft, inv.Status)
	assert.True(t, inv.Total.Equal(dec("480")), "total: %s", inv.Total)

	for _, id := range []string{"ts-1", "ts-2"} {
		snap, err := f.store.CurrentSnapshot(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, inv.ID, snap.LockedByInvoiceID, "timesheet %s", id)
	}

	lines, err := f.store.InvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestCreateInvoice_IncludesExpenseAndMileageCharges(t *testing.T) {
	// GIVEN: A promoted timesheet with expense and mileage charges
	// WHEN: Creating an invoice
	// THEN: The line amount is charge total + expenses + mileage

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", func(ts *engine.Timesheet) {
		ts.ExpenseCharge = dec("12.50")
		ts.MileageCharge = dec("7.25")
		ts.EvidenceRef = "receipt-1"
	})
	f.promote(t, "ts-1")

	inv, err := f.mgr.CreateInvoice(context.Background(), []string{"ts-1"})
	require.NoError(t, err)

	assert.True(t, inv.Total.Equal(dec("259.75")), "total: %s", inv.Total)
}

func TestCreateInvoice_SkipsIneligibleTimesheets(t *testing.T) {
	// GIVEN: One promoted and one merely READY_FOR_HR timesheet
	// WHEN: Creating an invoice for both
	// THEN: Only the promoted one is billed

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.seedShift(t, "ts-2", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1", "ts-2"})
	require.NoError(t, err)

	lines, err := f.store.InvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "ts-1", lines[0].TimesheetID)
}

func TestCreateInvoice_NothingEligible_Rejected(t *testing.T) {
	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil) // not promoted

	_, err := f.mgr.CreateInvoice(context.Background(), []string{"ts-1"})

	assert.ErrorIs(t, err, engine.ErrNothingToInvoice)
}

func TestCreateInvoice_MixedClients_RejectedBeforeAnyLock(t *testing.T) {
	// GIVEN: Promoted timesheets for two different clients
	// WHEN: Creating one invoice for both
	// THEN: Rejected, and neither snapshot is locked

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedClient(t, "client-2")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.seedShift(t, "ts-2", "cand-1", "client-2", func(ts *engine.Timesheet) {
		ts.ClientID = "client-2"
	})
	f.promote(t, "ts-1", "ts-2")
	ctx := context.Background()

	_, err := f.mgr.CreateInvoice(ctx, []string{"ts-1", "ts-2"})

	assert.ErrorIs(t, err, engine.ErrMixedClients)
	for _, id := range []string{"ts-1", "ts-2"} {
		snap, err := f.store.CurrentSnapshot(ctx, id)
		require.NoError(t, err)
		assert.False(t, snap.Locked(), "timesheet %s must not be locked", id)
	}
}

func TestCreateInvoice_AlreadyLocked_SecondInvoiceGetsNothing(t *testing.T) {
	// GIVEN: A timesheet already on an invoice
	// WHEN: Invoicing it again
	// THEN: No eligible snapshots remain - double invoicing is impossible

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	_, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)

	_, err = f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	assert.ErrorIs(t, err, engine.ErrNothingToInvoice)
}

// =============================================================================
// RECOMPUTE UNDER LOCK
// =============================================================================

func TestRecompute_LockedSnapshot_StaysAuthoritative(t *testing.T) {
	// GIVEN: An invoiced (locked) snapshot
	// WHEN: A recompute runs for the timesheet
	// THEN: The locked snapshot remains current; the fresh one is stored
	//       as non-current

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)

	locked, err := f.store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)

	fresh, err := f.writer.Recompute(ctx, "ts-1")
	require.NoError(t, err)
	assert.False(t, fresh.IsCurrent)

	current, err := f.store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, locked.ID, current.ID)
	assert.Equal(t, inv.ID, current.LockedByInvoiceID)
}

// =============================================================================
// CREDIT NOTES
// =============================================================================

func TestIssueCreditNote_ReleasesLocksAndEnqueuesRecompute(t *testing.T) {
	// GIVEN: An invoice locking two snapshots
	// WHEN: Issuing a credit note
	// THEN: Lines mirror the invoice negated, locks clear, snapshots go
	//       stale and a recompute is enqueued per released timesheet

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.seedShift(t, "ts-2", "cand-1", "client-1", nil)
	f.promote(t, "ts-1", "ts-2")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1", "ts-2"})
	require.NoError(t, err)

	// Drain the queue so the only pending items afterwards are the
	// credit note's.
	drainAll(t, f)

	cn, err := f.mgr.IssueCreditNote(ctx, inv.ID)
	require.NoError(t, err)

	assert.True(t, cn.Total.Equal(inv.Total.Neg()), "credit total: %s", cn.Total)

	for _, id := range []string{"ts-1", "ts-2"} {
		snap, err := f.store.CurrentSnapshot(ctx, id)
		require.NoError(t, err)
		assert.False(t, snap.Locked(), "timesheet %s still locked", id)
		assert.True(t, snap.Stale, "timesheet %s not marked stale", id)
	}

	pending := leaseAll(t, f)
	reasons := map[string]outbox.Reason{}
	for _, item := range pending {
		reasons[item.TimesheetID] = item.Reason
	}
	assert.Equal(t, outbox.ReasonContextChanged, reasons["ts-1"])
	assert.Equal(t, outbox.ReasonContextChanged, reasons["ts-2"])
}

func TestIssueCreditNote_AlreadyCredited_Rejected(t *testing.T) {
	// GIVEN: An invoice already reversed by a credit note
	// WHEN: Issuing a second credit note
	// THEN: Rejected with a state conflict - an invoice is reversed at
	//       most once

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)
	first, err := f.mgr.IssueCreditNote(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.mgr.IssueCreditNote(ctx, inv.ID)
	assert.ErrorIs(t, err, engine.ErrInvoiceState)

	// The original note is still the only one on record.
	got, err := f.store.CreditNoteForInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, first.ID, got.ID)
}

func TestIssueCreditNote_UnknownInvoice_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.IssueCreditNote(context.Background(), "ghost")

	assert.ErrorIs(t, err, engine.ErrInvoiceNotFound)
}

func TestReleasedSnapshot_RequiresFreshPromotion(t *testing.T) {
	// GIVEN: A credit-noted timesheet recomputed afresh
	// WHEN: Inspecting its new current snapshot
	// THEN: It is READY_FOR_HR - it must pass the gate again before it
	//       can be re-invoiced

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)
	_, err = f.mgr.IssueCreditNote(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.writer.Recompute(ctx, "ts-1")
	require.NoError(t, err)

	snap, err := f.store.CurrentSnapshot(ctx, "ts-1")
	require.NoError(t, err)
	assert.Equal(t, snapshot.StatusReadyForHR, snap.Status)
	assert.False(t, snap.Locked())
	assert.False(t, snap.Stale)
}

// =============================================================================
// INVOICE STATUS TRANSITIONS
// =============================================================================

func TestInvoiceTransitions_HappyPath(t *testing.T) {
	// GIVEN: A draft invoice
	// WHEN: Issuing, holding, resuming and marking paid
	// THEN: Each transition lands; the final status is PAID

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)

	require.NoError(t, f.mgr.Issue(ctx, inv.ID))
	require.NoError(t, f.mgr.Hold(ctx, inv.ID))
	require.NoError(t, f.mgr.Resume(ctx, inv.ID))
	require.NoError(t, f.mgr.MarkPaid(ctx, inv.ID))

	got, err := f.store.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.InvoicePaid, got.Status)
}

func TestInvoiceTransitions_InvalidMove_Rejected(t *testing.T) {
	// GIVEN: A draft invoice
	// WHEN: Marking it paid without issuing first
	// THEN: Rejected with an invoice-state conflict

	f := newFixture(t)
	f.seedCandidate(t, "cand-1", true)
	f.seedClient(t, "client-1")
	f.seedShift(t, "ts-1", "cand-1", "client-1", nil)
	f.promote(t, "ts-1")
	ctx := context.Background()

	inv, err := f.mgr.CreateInvoice(ctx, []string{"ts-1"})
	require.NoError(t, err)

	err = f.mgr.MarkPaid(ctx, inv.ID)
	assert.ErrorIs(t, err, engine.ErrInvoiceState)
}
