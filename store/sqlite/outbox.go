package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/timesheet-engine/outbox"
)

// =============================================================================
// RECOMPUTE OUTBOX - implements outbox.Store
// =============================================================================

const outboxColumns = `
	id, timesheet_id, reason, attempts, epoch, visible_at, leased_until,
	parked, last_error, created_at`

// Enqueue records a recompute request. A pending item for the same
// (timesheet, reason) coalesces; a parked one is revived with a fresh
// attempt budget.
func (s *Store) Enqueue(ctx context.Context, timesheetID string, reason outbox.Reason, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := enqueueTx(ctx, tx, timesheetID, reason, now); err != nil {
		return err
	}
	return tx.Commit()
}

// enqueueTx is the shared insert used both standalone and inside the
// timesheet-write and credit-note transactions.
func enqueueTx(ctx context.Context, tx *sql.Tx, timesheetID string, reason outbox.Reason, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO outbox (id, timesheet_id, reason, attempts, epoch, visible_at, parked, last_error, created_at)
		VALUES (?, ?, ?, 0, 0, ?, 0, '', ?)
		ON CONFLICT(timesheet_id, reason) DO UPDATE SET
			attempts = CASE WHEN outbox.parked = 1 THEN 0 ELSE outbox.attempts END,
			epoch = outbox.epoch + 1,
			visible_at = CASE WHEN outbox.parked = 1 THEN excluded.visible_at ELSE outbox.visible_at END,
			last_error = CASE WHEN outbox.parked = 1 THEN '' ELSE outbox.last_error END,
			parked = 0`,
		uuid.NewString(), timesheetID, string(reason), encodeTime(now), encodeTime(now))
	if err != nil {
		return fmt.Errorf("enqueueing recompute for %s: %w", timesheetID, err)
	}
	return nil
}

// Lease claims up to limit unleased, visible, unparked items, oldest
// first. Each claim is a conditional update: a row another drain
// leased in between is simply skipped.
func (s *Store) Lease(ctx context.Context, limit int, now, until time.Time) ([]outbox.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox
		WHERE parked = 0 AND visible_at <= ?
		  AND (leased_until IS NULL OR leased_until <= ?)
		ORDER BY created_at ASC
		LIMIT ?`,
		encodeTime(now), encodeTime(now), limit)
	if err != nil {
		return nil, fmt.Errorf("selecting lease candidates: %w", err)
	}
	candidates, err := scanOutboxItems(rows)
	if err != nil {
		return nil, err
	}

	var leased []outbox.Item
	for _, item := range candidates {
		res, err := s.db.ExecContext(ctx, `
			UPDATE outbox SET leased_until = ?
			WHERE id = ? AND parked = 0 AND visible_at <= ?
			  AND (leased_until IS NULL OR leased_until <= ?)`,
			encodeTime(until), item.ID, encodeTime(now), encodeTime(now))
		if err != nil {
			return nil, fmt.Errorf("leasing item %s: %w", item.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}
		item.LeasedUntil = until
		leased = append(leased, item)
	}
	return leased, nil
}

// Ack deletes a successfully processed item, conditional on the epoch
// observed at lease time. A coalescing enqueue during the lease bumps
// the epoch; on a miss the refreshed item is kept and its lease freed
// so the next drain picks it up straight away.
func (s *Store) Ack(ctx context.Context, id string, epoch int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM outbox WHERE id = ? AND epoch = ?`, id, epoch)
	if err != nil {
		return fmt.Errorf("acking item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		_, err = s.db.ExecContext(ctx, `
			UPDATE outbox SET leased_until = NULL WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("releasing refreshed item %s: %w", id, err)
		}
	}
	return nil
}

// Nack releases a failed item, incrementing its attempt counter and
// hiding it until nextVisible.
func (s *Store) Nack(ctx context.Context, id string, nextVisible time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, visible_at = ?, leased_until = NULL, last_error = ?
		WHERE id = ?`,
		encodeTime(nextVisible), lastError, id)
	if err != nil {
		return fmt.Errorf("nacking item %s: %w", id, err)
	}
	return nil
}

// Park shelves an item that exhausted its retries. Parked items are
// kept for inspection and never leased.
func (s *Store) Park(ctx context.Context, id string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET parked = 1, attempts = attempts + 1, leased_until = NULL, last_error = ?
		WHERE id = ?`,
		lastError, id)
	if err != nil {
		return fmt.Errorf("parking item %s: %w", id, err)
	}
	return nil
}

// ParkedItems lists parked items, oldest first.
func (s *Store) ParkedItems(ctx context.Context) ([]outbox.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox WHERE parked = 1 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing parked items: %w", err)
	}
	return scanOutboxItems(rows)
}

func scanOutboxItems(rows *sql.Rows) ([]outbox.Item, error) {
	defer rows.Close()

	var items []outbox.Item
	for rows.Next() {
		var item outbox.Item
		var reason, visibleAt, createdAt string
		var leasedUntil sql.NullString
		err := rows.Scan(&item.ID, &item.TimesheetID, &reason, &item.Attempts,
			&item.Epoch, &visibleAt, &leasedUntil, &item.Parked, &item.LastError, &createdAt)
		if err != nil {
			return nil, err
		}

		item.Reason = outbox.Reason(reason)
		if item.VisibleAt, err = decodeTime(visibleAt); err != nil {
			return nil, err
		}
		if leasedUntil.Valid {
			if item.LeasedUntil, err = decodeTime(leasedUntil.String); err != nil {
				return nil, err
			}
		}
		if item.CreatedAt, err = decodeTime(createdAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}
