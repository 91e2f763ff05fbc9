package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/rates"
)

// =============================================================================
// CLIENT RATE WINDOWS - implements the window half of rates.Store
// =============================================================================

const windowColumns = `
	id, client_id, role, band, from_date, to_date, disabled,
	charge_json, employed_pay_json, company_pay_json, created_at`

// GetWindow returns the window row regardless of its disabled state,
// or nil if unknown.
func (s *Store) GetWindow(ctx context.Context, id string) (*rates.ClientRateWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+`
		FROM rate_windows WHERE id = ?`, id)
	w, err := scanWindow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading window %s: %w", id, err)
	}
	return w, nil
}

// ActiveWindow returns the enabled window for the exact scope covering
// the date, or nil. A nil band matches only the unbanded scope.
func (s *Store) ActiveWindow(ctx context.Context, clientID, role string, band *string, on engine.Date) (*rates.ClientRateWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+`
		FROM rate_windows
		WHERE client_id = ? AND role = ? AND band IS ? AND disabled = 0
		  AND from_date <= ? AND (to_date IS NULL OR to_date >= ?)`,
		clientID, role, bandArg(band), on.String(), on.String())
	w, err := scanWindow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active window: %w", err)
	}
	return w, nil
}

// NextWindowAfter returns the earliest enabled window for the scope
// starting strictly after the date, or nil.
func (s *Store) NextWindowAfter(ctx context.Context, clientID, role string, band *string, after engine.Date) (*rates.ClientRateWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+windowColumns+`
		FROM rate_windows
		WHERE client_id = ? AND role = ? AND band IS ? AND disabled = 0
		  AND from_date > ?
		ORDER BY from_date ASC LIMIT 1`,
		clientID, role, bandArg(band), after.String())
	w, err := scanWindow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading next window: %w", err)
	}
	return w, nil
}

// InsertWindow persists a new window row. A non-nil truncation closes
// the incumbent in the same transaction, so the timeline never holds a
// gap between the truncation and the replacement.
func (s *Store) InsertWindow(ctx context.Context, w rates.ClientRateWindow, truncate *rates.Truncation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	charge, err := encodeRateCard(w.Charge)
	if err != nil {
		return err
	}
	employed, err := encodeRateCard(w.EmployedPay)
	if err != nil {
		return err
	}
	company, err := encodeRateCard(w.CompanyPay)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if truncate != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE rate_windows SET to_date = ? WHERE id = ?`,
			truncate.End.String(), truncate.ID)
		if err != nil {
			return fmt.Errorf("truncating window %s: %w", truncate.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_windows (
			id, client_id, role, band, from_date, to_date, disabled,
			charge_json, employed_pay_json, company_pay_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.ClientID, w.Role, bandArg(w.Band), w.From.String(), encodeDatePtr(w.To),
		w.Disabled, charge, employed, company, encodeTime(w.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting rate window %s: %w", w.ID, err)
	}
	return tx.Commit()
}

// SetWindowDisabled soft-disables (or re-enables) a window. Disabled
// windows are excluded from resolution but kept for audit.
func (s *Store) SetWindowDisabled(ctx context.Context, id string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE rate_windows SET disabled = ? WHERE id = ?`, disabled, id)
	if err != nil {
		return fmt.Errorf("toggling window %s: %w", id, err)
	}
	return nil
}

func scanWindow(row rowScanner) (*rates.ClientRateWindow, error) {
	var w rates.ClientRateWindow
	var band, toDate sql.NullString
	var fromDate, charge, employed, company, createdAt string
	err := row.Scan(&w.ID, &w.ClientID, &w.Role, &band, &fromDate, &toDate, &w.Disabled,
		&charge, &employed, &company, &createdAt)
	if err != nil {
		return nil, err
	}

	w.Band = decodeBand(band)
	if w.From, err = engine.ParseDate(fromDate); err != nil {
		return nil, err
	}
	if w.To, err = decodeDatePtr(toDate); err != nil {
		return nil, err
	}
	if w.Charge, err = decodeRateCard(charge); err != nil {
		return nil, err
	}
	if w.EmployedPay, err = decodeRateCard(employed); err != nil {
		return nil, err
	}
	if w.CompanyPay, err = decodeRateCard(company); err != nil {
		return nil, err
	}
	if w.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &w, nil
}

// =============================================================================
// CANDIDATE RATE OVERRIDES
// =============================================================================

const overrideColumns = `
	id, candidate_id, client_id, role, band, channel, from_date, to_date,
	pay_json, created_at`

// ActiveOverride returns the override for the exact scope covering the
// date, or nil.
func (s *Store) ActiveOverride(ctx context.Context, candidateID, clientID, role string, band *string, ch engine.PayChannel, on engine.Date) (*rates.CandidateRateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM rate_overrides
		WHERE candidate_id = ? AND client_id = ? AND role = ? AND band IS ? AND channel = ?
		  AND from_date <= ? AND (to_date IS NULL OR to_date >= ?)`,
		candidateID, clientID, role, bandArg(band), string(ch), on.String(), on.String())
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading active override: %w", err)
	}
	return o, nil
}

// NextOverrideAfter returns the earliest override for the scope
// starting strictly after the date, or nil.
func (s *Store) NextOverrideAfter(ctx context.Context, candidateID, clientID, role string, band *string, ch engine.PayChannel, after engine.Date) (*rates.CandidateRateOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+overrideColumns+`
		FROM rate_overrides
		WHERE candidate_id = ? AND client_id = ? AND role = ? AND band IS ? AND channel = ?
		  AND from_date > ?
		ORDER BY from_date ASC LIMIT 1`,
		candidateID, clientID, role, bandArg(band), string(ch), after.String())
	o, err := scanOverride(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading next override: %w", err)
	}
	return o, nil
}

// InsertOverride persists a new override row. A non-nil truncation
// closes the incumbent in the same transaction.
func (s *Store) InsertOverride(ctx context.Context, o rates.CandidateRateOverride, truncate *rates.Truncation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pay, err := encodeRateCard(o.Pay)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if truncate != nil {
		_, err = tx.ExecContext(ctx, `
			UPDATE rate_overrides SET to_date = ? WHERE id = ?`,
			truncate.End.String(), truncate.ID)
		if err != nil {
			return fmt.Errorf("truncating override %s: %w", truncate.ID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_overrides (
			id, candidate_id, client_id, role, band, channel, from_date, to_date,
			pay_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.CandidateID, o.ClientID, o.Role, bandArg(o.Band), string(o.Channel),
		o.From.String(), encodeDatePtr(o.To), pay, encodeTime(o.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting rate override %s: %w", o.ID, err)
	}
	return tx.Commit()
}

func scanOverride(row rowScanner) (*rates.CandidateRateOverride, error) {
	var o rates.CandidateRateOverride
	var band, toDate sql.NullString
	var channel, fromDate, pay, createdAt string
	err := row.Scan(&o.ID, &o.CandidateID, &o.ClientID, &o.Role, &band, &channel,
		&fromDate, &toDate, &pay, &createdAt)
	if err != nil {
		return nil, err
	}

	o.Band = decodeBand(band)
	o.Channel = engine.PayChannel(channel)
	if o.From, err = engine.ParseDate(fromDate); err != nil {
		return nil, err
	}
	if o.To, err = decodeDatePtr(toDate); err != nil {
		return nil, err
	}
	if o.Pay, err = decodeRateCard(pay); err != nil {
		return nil, err
	}
	if o.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &o, nil
}
