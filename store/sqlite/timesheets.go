package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
)

// =============================================================================
// TIMESHEETS - Versioned, never mutated
// =============================================================================

// InsertTimesheetVersion inserts a new timesheet version, demotes any
// prior current version and enqueues a recompute, all in one
// transaction. The first version enqueues NEW_AUTHORISED; later
// versions enqueue VERSION_ROTATED.
func (s *Store) InsertTimesheetVersion(ctx context.Context, ts engine.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE timesheets SET is_current = 0 WHERE id = ? AND is_current = 1`, ts.ID)
	if err != nil {
		return fmt.Errorf("demoting prior version of %s: %w", ts.ID, err)
	}
	demoted, err := res.RowsAffected()
	if err != nil {
		return err
	}

	breakStr, err := encodeBreak(ts.Break)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO timesheets (
			id, version, is_current, candidate_id, client_id, role, band,
			start_at, end_at, break_json, reference_number,
			expense_charge, mileage_charge, evidence_ref,
			authorised_at, revoked_at, revoked_reason, created_at)
		VALUES (?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.Version, ts.CandidateID, ts.ClientID, ts.Role, ts.Band,
		encodeTime(ts.StartAt), encodeTime(ts.EndAt), breakStr, ts.ReferenceNumber,
		ts.ExpenseCharge.String(), ts.MileageCharge.String(), ts.EvidenceRef,
		encodeTimePtr(ts.AuthorisedAt), encodeTimePtr(ts.RevokedAt), ts.RevokedReason,
		encodeTime(ts.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting timesheet %s v%d: %w", ts.ID, ts.Version, err)
	}

	reason := outbox.ReasonNewAuthorised
	if demoted > 0 {
		reason = outbox.ReasonVersionRotated
	}
	if err := enqueueTx(ctx, tx, ts.ID, reason, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

// GetTimesheet returns the current version of a timesheet, or nil if
// no current version exists.
func (s *Store) GetTimesheet(ctx context.Context, id string) (*engine.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, version, is_current, candidate_id, client_id, role, band,
		       start_at, end_at, break_json, reference_number,
		       expense_charge, mileage_charge, evidence_ref,
		       authorised_at, revoked_at, revoked_reason, created_at
		FROM timesheets WHERE id = ? AND is_current = 1`, id)
	ts, err := scanTimesheet(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading timesheet %s: %w", id, err)
	}
	return ts, nil
}

// RevokeTimesheet withdraws the current version of a timesheet and
// enqueues a recompute, which writes the neutral REVOKED marker.
func (s *Store) RevokeTimesheet(ctx context.Context, id, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE timesheets SET revoked_at = ?, revoked_reason = ?
		WHERE id = ? AND is_current = 1 AND revoked_at IS NULL`,
		encodeTime(at), reason, id)
	if err != nil {
		return fmt.Errorf("revoking timesheet %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return engine.ErrTimesheetNotFound
	}

	if err := enqueueTx(ctx, tx, id, outbox.ReasonRevoked, time.Now().UTC()); err != nil {
		return err
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTimesheet(row rowScanner) (*engine.Timesheet, error) {
	var ts engine.Timesheet
	var startAt, endAt, breakStr, expense, mileage, createdAt string
	var authorisedAt, revokedAt sql.NullString
	err := row.Scan(&ts.ID, &ts.Version, &ts.IsCurrent, &ts.CandidateID, &ts.ClientID,
		&ts.Role, &ts.Band, &startAt, &endAt, &breakStr, &ts.ReferenceNumber,
		&expense, &mileage, &ts.EvidenceRef,
		&authorisedAt, &revokedAt, &ts.RevokedReason, &createdAt)
	if err != nil {
		return nil, err
	}

	if ts.StartAt, err = decodeTime(startAt); err != nil {
		return nil, err
	}
	if ts.EndAt, err = decodeTime(endAt); err != nil {
		return nil, err
	}
	if ts.Break, err = decodeBreak(breakStr); err != nil {
		return nil, err
	}
	if ts.ExpenseCharge, err = decodeDecimal(expense); err != nil {
		return nil, err
	}
	if ts.MileageCharge, err = decodeDecimal(mileage); err != nil {
		return nil, err
	}
	if ts.AuthorisedAt, err = decodeTimePtr(authorisedAt); err != nil {
		return nil, err
	}
	if ts.RevokedAt, err = decodeTimePtr(revokedAt); err != nil {
		return nil, err
	}
	if ts.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &ts, nil
}

// =============================================================================
// VALIDATION RECORDS
// =============================================================================

// PutValidationRecord stores the latest external check result for a
// timesheet, replacing any earlier one.
func (s *Store) PutValidationRecord(ctx context.Context, rec billing.ValidationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO validation_records (timesheet_id, status, checked_at)
		VALUES (?, ?, ?)
		ON CONFLICT(timesheet_id) DO UPDATE SET
			status = excluded.status,
			checked_at = excluded.checked_at`,
		rec.TimesheetID, rec.Status, encodeTime(rec.CheckedAt))
	if err != nil {
		return fmt.Errorf("storing validation record for %s: %w", rec.TimesheetID, err)
	}
	return nil
}

// ValidationRecord returns the check result for a timesheet, or nil.
func (s *Store) ValidationRecord(ctx context.Context, timesheetID string) (*billing.ValidationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rec billing.ValidationRecord
	var checkedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT timesheet_id, status, checked_at
		FROM validation_records WHERE timesheet_id = ?`, timesheetID).
		Scan(&rec.TimesheetID, &rec.Status, &checkedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading validation record for %s: %w", timesheetID, err)
	}
	if rec.CheckedAt, err = decodeTime(checkedAt); err != nil {
		return nil, err
	}
	return &rec, nil
}
