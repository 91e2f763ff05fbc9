/*
Package outbox is the durable recompute queue.

PURPOSE:
  Every event that can change a timesheet's financials (submission,
  version rotation, rate or policy changes, revocation, manual nudges)
  enqueues a recompute request. Items are leased with a visibility
  deadline so delivery is at-least-once: a processor that dies mid-item
  loses its lease and another drain picks the item up again. Recompute
  is idempotent, so re-running from scratch is always safe.

LIFECYCLE:
  created -> leased -> acknowledged (deleted)
                    -> failed (rescheduled with backoff)
                    -> parked (after the retry ceiling, kept for
                       manual inspection - never silently dropped)

  Items are deduplicated on (timesheet, reason): enqueueing the same
  pair coalesces into one pending item.
*/
package outbox

import "time"

// =============================================================================
// RECOMPUTE REASONS - Advisory metadata only
// =============================================================================

// Reason records why a recompute was requested. The processor never
// branches on it - a partial recompute is a correctness risk, so every
// drain performs the full pipeline.
type Reason string

const (
	ReasonNewAuthorised  Reason = "NEW_AUTHORISED"
	ReasonVersionRotated Reason = "VERSION_ROTATED"
	ReasonRevoked        Reason = "REVOKED"
	ReasonRateChanged    Reason = "RATE_CHANGED"
	ReasonPolicyChanged  Reason = "POLICY_CHANGED"
	ReasonContextChanged Reason = "CONTEXT_CHANGED"
	ReasonManual         Reason = "MANUAL"
)

// =============================================================================
// OUTBOX ITEM
// =============================================================================

// Item is one pending recompute request. Epoch counts coalescing
// enqueues: an ack only deletes the item when the epoch still matches
// the one observed at lease time, so a request that arrived mid-lease
// is never swallowed by the in-flight run's success.
type Item struct {
	ID          string
	TimesheetID string
	Reason      Reason
	Attempts    int
	Epoch       int64
	VisibleAt   time.Time
	LeasedUntil time.Time // zero when not leased
	Parked      bool
	LastError   string
	CreatedAt   time.Time
}
