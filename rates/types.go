/*
Package rates resolves pay and charge rates for worked shifts.

PURPOSE:
  Two record kinds drive resolution:

  - ClientRateWindow: a date-ranged pricing rule per (client, role,
    band) scope. One row carries three rate sets - the client charge
    rates and the pay rates for both pay channels - so all three are
    guaranteed to share one effective date range.
  - CandidateRateOverride: a date-ranged pay-only override per
    (candidate, client, role, band, channel). Overrides may only exist
    inside an active window for the same scope.

  Resolution is a two-tier lookup: override first (exact band, then
  unbanded), falling back to the channel's rate set inside the active
  window. Charge rates always come from the window. No window means no
  resolution - never a default of zero.

INVARIANTS:
  - Active windows for one scope never overlap in time (see
    timeline.go for the insertion protocol that maintains this).
  - Disabled windows are excluded from resolution but kept for audit.

SEE ALSO:
  - resolver.go: the Resolve operation
  - timeline.go: window/override insertion with truncation
*/
package rates

import (
	"time"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// CLIENT RATE WINDOW - Unified charge + pay-channel rates per scope
// =============================================================================

// ClientRateWindow is a date-ranged pricing rule. To is nil for an
// open-ended window. Disabled windows are retained but never resolved.
type ClientRateWindow struct {
	ID       string
	ClientID string
	Role     string
	Band     *string // nil = unbanded scope
	From     engine.Date
	To       *engine.Date
	Disabled bool

	Charge      engine.RateCard
	EmployedPay engine.RateCard
	CompanyPay  engine.RateCard

	CreatedAt time.Time
}

// Covers reports whether the window's date range includes d.
func (w ClientRateWindow) Covers(d engine.Date) bool {
	if d.Before(w.From) {
		return false
	}
	return w.To == nil || d.BeforeOrEqual(*w.To)
}

// PayFor returns the pay rate set for a channel.
func (w ClientRateWindow) PayFor(ch engine.PayChannel) engine.RateCard {
	if ch == engine.ChannelCompany {
		return w.CompanyPay
	}
	return w.EmployedPay
}

// =============================================================================
// CANDIDATE RATE OVERRIDE - Pay-only, channel-scoped
// =============================================================================

// CandidateRateOverride replaces the window's pay rates for one
// candidate. It never carries charge rates.
type CandidateRateOverride struct {
	ID          string
	CandidateID string
	ClientID    string
	Role        string
	Band        *string
	Channel     engine.PayChannel
	From        engine.Date
	To          *engine.Date

	Pay engine.RateCard

	CreatedAt time.Time
}

// Covers reports whether the override's date range includes d.
func (o CandidateRateOverride) Covers(d engine.Date) bool {
	if d.Before(o.From) {
		return false
	}
	return o.To == nil || d.BeforeOrEqual(*o.To)
}

// =============================================================================
// RESOLUTION RESULT
// =============================================================================

// RateSource identifies where resolved pay rates came from.
type RateSource string

const (
	SourceWindow   RateSource = "window"
	SourceOverride RateSource = "override"
)

// Resolution is the outcome of a successful rate lookup.
type Resolution struct {
	Channel    engine.PayChannel
	Pay        engine.RateCard
	Charge     engine.RateCard
	Source     RateSource
	WindowID   string
	OverrideID string // "" when Source == SourceWindow
}
