/*
Package billing turns invoice-ready snapshots into invoices and undoes
that with credit notes.

PURPOSE:
  Two components live here:

  - Gate: the business-rule checkpoint between "computed" and
    "invoiceable". Each timesheet either promotes to READY_FOR_INVOICE
    or is reported with a specific blocking reason, never a generic
    failure.
  - Manager: invoice creation (which stamps an exclusive lock on each
    selected snapshot) and credit-note issuance (which releases the
    locks, marks the snapshots stale, and enqueues fresh recomputes).

LOCKING:
  A snapshot's lock is the only exclusive resource in the engine. Both
  acquisition and release are single conditional updates in the store;
  the lock write is the linearization point that makes double-invoicing
  impossible.
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INVOICE
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft  InvoiceStatus = "DRAFT"
	InvoiceIssued InvoiceStatus = "ISSUED"
	InvoiceOnHold InvoiceStatus = "ON_HOLD"
	InvoicePaid   InvoiceStatus = "PAID"
)

// Invoice bills exactly one client for a set of locked snapshots.
type Invoice struct {
	ID        string
	ClientID  string
	Status    InvoiceStatus
	Total     decimal.Decimal
	CreatedAt time.Time
}

// Line references exactly one locked snapshot.
type Line struct {
	ID          string
	InvoiceID   string
	SnapshotID  string
	TimesheetID string
	Amount      decimal.Decimal
}

// =============================================================================
// CREDIT NOTE
// =============================================================================

// CreditNote reverses an invoice: its lines mirror the invoice's with
// negated amounts, and issuing it releases every snapshot lock.
type CreditNote struct {
	ID        string
	InvoiceID string
	Total     decimal.Decimal
	CreatedAt time.Time
}

// CreditLine mirrors one invoice line with a negated amount.
type CreditLine struct {
	ID           string
	CreditNoteID string
	SnapshotID   string
	TimesheetID  string
	Amount       decimal.Decimal
}

// =============================================================================
// VALIDATION RECORDS - Written externally, read by the gate
// =============================================================================

const ValidationPassed = "PASSED"

// ValidationRecord is an externally-written check result for a
// timesheet. When the validation-required flag is on, promotion
// demands a passing record.
type ValidationRecord struct {
	TimesheetID string
	Status      string
	CheckedAt   time.Time
}

func (v ValidationRecord) Passed() bool { return v.Status == ValidationPassed }
