/*
Package snapshot computes and persists immutable financial facts for
timesheet versions.

PURPOSE:
  A FinancialSnapshot is the priced, auditable result of classifying a
  timesheet's hours and resolving its rates. Snapshots are written by
  the Writer during recompute, promoted by the billing gate, locked by
  invoices, and never mutated in place once locked.

STATE MACHINE:
  UNASSIGNED -> CLIENT_UNRESOLVED -> RATE_MISSING ->
  PAY_CHANNEL_MISSING -> READY_FOR_HR -> READY_FOR_INVOICE

  The ladder is evaluated top-down on every recompute; READY_FOR_INVOICE
  is only ever reached through the billing promotion gate, never by the
  Writer. A missing or revoked timesheet produces a neutral REVOKED
  marker row, which is a success, not an error.
*/
package snapshot

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// PROCESSING STATUS
// =============================================================================

type ProcessingStatus string

const (
	StatusUnassigned        ProcessingStatus = "UNASSIGNED"
	StatusClientUnresolved  ProcessingStatus = "CLIENT_UNRESOLVED"
	StatusRateMissing       ProcessingStatus = "RATE_MISSING"
	StatusPayChannelMissing ProcessingStatus = "PAY_CHANNEL_MISSING"
	StatusReadyForHR        ProcessingStatus = "READY_FOR_HR"
	StatusReadyForInvoice   ProcessingStatus = "READY_FOR_INVOICE"

	// StatusRevoked marks the neutral row written when the underlying
	// timesheet version was withdrawn. It carries no financial data.
	StatusRevoked ProcessingStatus = "REVOKED"
)

// =============================================================================
// FINANCIAL SNAPSHOT
// =============================================================================

// FinancialSnapshot is an immutable computed fact for one timesheet
// version. Exactly one snapshot per timesheet is current; a snapshot
// locked by an invoice is frozen until a credit note releases it.
type FinancialSnapshot struct {
	ID          string
	TimesheetID string
	Version     int
	Status      ProcessingStatus

	CandidateID string
	ClientID    string
	Channel     engine.PayChannel

	Hours       engine.HourBuckets
	PayRates    engine.RateCard
	ChargeRates engine.RateCard

	PayTotal    decimal.Decimal
	ChargeTotal decimal.Decimal
	Margin      decimal.Decimal

	// Carried from the timesheet for the promotion gate.
	ExpenseCharge decimal.Decimal
	MileageCharge decimal.Decimal
	EvidenceRef   string

	IsCurrent         bool
	LockedByInvoiceID string // "" = unlocked
	Stale             bool

	ComputedAt time.Time
}

// Locked reports whether an invoice holds this snapshot.
func (s FinancialSnapshot) Locked() bool { return s.LockedByInvoiceID != "" }

// LineAmount is the billable amount for one invoice line: the charge
// total plus any expense and mileage charges.
func (s FinancialSnapshot) LineAmount() decimal.Decimal {
	return s.ChargeTotal.Add(s.ExpenseCharge).Add(s.MileageCharge)
}
