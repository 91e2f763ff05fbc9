package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/snapshot"
)

// =============================================================================
// FINANCIAL SNAPSHOTS - implements snapshot.Store
// =============================================================================

const snapshotColumns = `
	id, timesheet_id, version, status, candidate_id, client_id, channel,
	hours_json, pay_rates_json, charge_rates_json,
	pay_total, charge_total, margin,
	expense_charge, mileage_charge, evidence_ref,
	is_current, locked_by_invoice_id, stale, computed_at`

// SaveSnapshot atomically supersedes the prior current snapshot for
// the timesheet and inserts the new one as current. When the prior
// current snapshot is locked by an invoice it stays current and the
// new row is inserted as non-current: the invoiced fact remains
// authoritative until a credit note releases it.
func (s *Store) SaveSnapshot(ctx context.Context, snap snapshot.FinancialSnapshot) (snapshot.FinancialSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return snapshot.FinancialSnapshot{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var lockedBy string
	err = tx.QueryRowContext(ctx, `
		SELECT locked_by_invoice_id FROM snapshots
		WHERE timesheet_id = ? AND is_current = 1`, snap.TimesheetID).Scan(&lockedBy)
	if err != nil && err != sql.ErrNoRows {
		return snapshot.FinancialSnapshot{}, fmt.Errorf("checking current snapshot: %w", err)
	}

	snap.IsCurrent = true
	if lockedBy != "" {
		snap.IsCurrent = false
	} else if err == nil {
		if _, err := tx.ExecContext(ctx, `
			UPDATE snapshots SET is_current = 0
			WHERE timesheet_id = ? AND is_current = 1`, snap.TimesheetID); err != nil {
			return snapshot.FinancialSnapshot{}, fmt.Errorf("superseding current snapshot: %w", err)
		}
	}

	if err := insertSnapshot(ctx, tx, snap); err != nil {
		return snapshot.FinancialSnapshot{}, err
	}
	if err := tx.Commit(); err != nil {
		return snapshot.FinancialSnapshot{}, err
	}
	return snap, nil
}

func insertSnapshot(ctx context.Context, tx *sql.Tx, snap snapshot.FinancialSnapshot) error {
	hours, err := encodeHours(snap.Hours)
	if err != nil {
		return err
	}
	payRates, err := encodeRateCard(snap.PayRates)
	if err != nil {
		return err
	}
	chargeRates, err := encodeRateCard(snap.ChargeRates)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (`+snapshotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.TimesheetID, snap.Version, string(snap.Status),
		snap.CandidateID, snap.ClientID, string(snap.Channel),
		hours, payRates, chargeRates,
		snap.PayTotal.String(), snap.ChargeTotal.String(), snap.Margin.String(),
		snap.ExpenseCharge.String(), snap.MileageCharge.String(), snap.EvidenceRef,
		snap.IsCurrent, snap.LockedByInvoiceID, snap.Stale, encodeTime(snap.ComputedAt))
	if err != nil {
		return fmt.Errorf("inserting snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// CurrentSnapshot returns the current snapshot for a timesheet, or
// nil if none has been computed yet.
func (s *Store) CurrentSnapshot(ctx context.Context, timesheetID string) (*snapshot.FinancialSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+snapshotColumns+`
		FROM snapshots WHERE timesheet_id = ? AND is_current = 1`, timesheetID)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading current snapshot for %s: %w", timesheetID, err)
	}
	return snap, nil
}

// PromoteSnapshot conditionally advances a current READY_FOR_HR
// snapshot to READY_FOR_INVOICE. The conditional update is the
// linearization point: a zero rows-affected result means the snapshot
// moved under us and the caller gets engine.ErrInvoiceState.
func (s *Store) PromoteSnapshot(ctx context.Context, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE snapshots SET status = ?
		WHERE id = ? AND is_current = 1 AND status = ? AND locked_by_invoice_id = ''`,
		string(snapshot.StatusReadyForInvoice), snapshotID, string(snapshot.StatusReadyForHR))
	if err != nil {
		return fmt.Errorf("promoting snapshot %s: %w", snapshotID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("snapshot %s: %w", snapshotID, engine.ErrInvoiceState)
	}
	return nil
}

func scanSnapshot(row rowScanner) (*snapshot.FinancialSnapshot, error) {
	var snap snapshot.FinancialSnapshot
	var status, channel, hours, payRates, chargeRates string
	var payTotal, chargeTotal, margin, expense, mileage, computedAt string
	err := row.Scan(&snap.ID, &snap.TimesheetID, &snap.Version, &status,
		&snap.CandidateID, &snap.ClientID, &channel,
		&hours, &payRates, &chargeRates,
		&payTotal, &chargeTotal, &margin,
		&expense, &mileage, &snap.EvidenceRef,
		&snap.IsCurrent, &snap.LockedByInvoiceID, &snap.Stale, &computedAt)
	if err != nil {
		return nil, err
	}

	snap.Status = snapshot.ProcessingStatus(status)
	snap.Channel = engine.PayChannel(channel)
	if snap.Hours, err = decodeHours(hours); err != nil {
		return nil, err
	}
	if snap.PayRates, err = decodeRateCard(payRates); err != nil {
		return nil, err
	}
	if snap.ChargeRates, err = decodeRateCard(chargeRates); err != nil {
		return nil, err
	}
	if snap.PayTotal, err = decodeDecimal(payTotal); err != nil {
		return nil, err
	}
	if snap.ChargeTotal, err = decodeDecimal(chargeTotal); err != nil {
		return nil, err
	}
	if snap.Margin, err = decodeDecimal(margin); err != nil {
		return nil, err
	}
	if snap.ExpenseCharge, err = decodeDecimal(expense); err != nil {
		return nil, err
	}
	if snap.MileageCharge, err = decodeDecimal(mileage); err != nil {
		return nil, err
	}
	if snap.ComputedAt, err = decodeTime(computedAt); err != nil {
		return nil, err
	}
	return &snap, nil
}
