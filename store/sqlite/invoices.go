package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// INVOICES AND CREDIT NOTES - implements the invoice half of billing.Store
// =============================================================================

// CreateInvoice persists the invoice and its lines and stamps every
// referenced snapshot's lock in one transaction. Each lock stamp is
// conditional on the snapshot still being current, unlocked and
// READY_FOR_INVOICE; a miss rolls the whole transaction back so no
// partial invoice ever lands.
func (s *Store) CreateInvoice(ctx context.Context, inv billing.Invoice, lines []billing.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (id, client_id, status, total, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		inv.ID, inv.ClientID, string(inv.Status), inv.Total.String(), encodeTime(inv.CreatedAt))
	if err != nil {
		return fmt.Errorf("inserting invoice %s: %w", inv.ID, err)
	}

	for _, line := range lines {
		res, err := tx.ExecContext(ctx, `
			UPDATE snapshots SET locked_by_invoice_id = ?
			WHERE id = ? AND is_current = 1 AND locked_by_invoice_id = '' AND status = 'READY_FOR_INVOICE'`,
			inv.ID, line.SnapshotID)
		if err != nil {
			return fmt.Errorf("locking snapshot %s: %w", line.SnapshotID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("snapshot %s: %w", line.SnapshotID, engine.ErrSnapshotLocked)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (id, invoice_id, snapshot_id, timesheet_id, amount)
			VALUES (?, ?, ?, ?, ?)`,
			line.ID, line.InvoiceID, line.SnapshotID, line.TimesheetID, line.Amount.String())
		if err != nil {
			return fmt.Errorf("inserting invoice line %s: %w", line.ID, err)
		}
	}
	return tx.Commit()
}

// GetInvoice returns the invoice or nil if unknown.
func (s *Store) GetInvoice(ctx context.Context, id string) (*billing.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var inv billing.Invoice
	var status, total, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, status, total, created_at FROM invoices WHERE id = ?`, id).
		Scan(&inv.ID, &inv.ClientID, &status, &total, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading invoice %s: %w", id, err)
	}

	inv.Status = billing.InvoiceStatus(status)
	if inv.Total, err = decodeDecimal(total); err != nil {
		return nil, err
	}
	if inv.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &inv, nil
}

// InvoiceLines returns the lines of an invoice.
func (s *Store) InvoiceLines(ctx context.Context, invoiceID string) ([]billing.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, snapshot_id, timesheet_id, amount
		FROM invoice_lines WHERE invoice_id = ?`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("loading lines for %s: %w", invoiceID, err)
	}
	defer rows.Close()

	var lines []billing.Line
	for rows.Next() {
		var line billing.Line
		var amount string
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.SnapshotID, &line.TimesheetID, &amount); err != nil {
			return nil, err
		}
		if line.Amount, err = decodeDecimal(amount); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// SetInvoiceStatus conditionally moves an invoice between statuses.
func (s *Store) SetInvoiceStatus(ctx context.Context, id string, from, to billing.InvoiceStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("updating invoice %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists int
		if err := s.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM invoices WHERE id = ?`, id).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return engine.ErrInvoiceNotFound
		}
		return fmt.Errorf("invoice %s: %w", id, engine.ErrInvoiceState)
	}
	return nil
}

// CreditNoteForInvoice returns the credit note issued against an
// invoice, or nil. The schema enforces at most one per invoice.
func (s *Store) CreditNoteForInvoice(ctx context.Context, invoiceID string) (*billing.CreditNote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cn billing.CreditNote
	var total, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, invoice_id, total, created_at FROM credit_notes WHERE invoice_id = ?`, invoiceID).
		Scan(&cn.ID, &cn.InvoiceID, &total, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading credit note for %s: %w", invoiceID, err)
	}
	if cn.Total, err = decodeDecimal(total); err != nil {
		return nil, err
	}
	if cn.CreatedAt, err = decodeTime(createdAt); err != nil {
		return nil, err
	}
	return &cn, nil
}

// CreateCreditNote persists the credit note and its lines, releases
// every snapshot lock held by the invoice and marks the released
// snapshots stale, all in one transaction. It returns the timesheet
// ids whose snapshots were released so the caller can enqueue fresh
// recomputes.
func (s *Store) CreateCreditNote(ctx context.Context, cn billing.CreditNote, lines []billing.CreditLine) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credit_notes (id, invoice_id, total, created_at)
		VALUES (?, ?, ?, ?)`,
		cn.ID, cn.InvoiceID, cn.Total.String(), encodeTime(cn.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("inserting credit note %s: %w", cn.ID, err)
	}

	for _, line := range lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO credit_note_lines (id, credit_note_id, snapshot_id, timesheet_id, amount)
			VALUES (?, ?, ?, ?, ?)`,
			line.ID, line.CreditNoteID, line.SnapshotID, line.TimesheetID, line.Amount.String())
		if err != nil {
			return nil, fmt.Errorf("inserting credit line %s: %w", line.ID, err)
		}
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT timesheet_id FROM snapshots WHERE locked_by_invoice_id = ?`, cn.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("listing locked snapshots: %w", err)
	}
	var released []string
	for rows.Next() {
		var tsID string
		if err := rows.Scan(&tsID); err != nil {
			rows.Close()
			return nil, err
		}
		released = append(released, tsID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `
		UPDATE snapshots SET locked_by_invoice_id = '', stale = 1
		WHERE locked_by_invoice_id = ?`, cn.InvoiceID)
	if err != nil {
		return nil, fmt.Errorf("releasing locks for %s: %w", cn.InvoiceID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return released, nil
}
