package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// PAY CHANNEL - How a worker is paid
// =============================================================================

// PayChannel is one of the two mutually exclusive ways a candidate is
// paid. The channel selects which pay-rate set applies and which detail
// completeness check gates invoicing.
type PayChannel string

const (
	// ChannelEmployed pays the candidate through direct employment.
	ChannelEmployed PayChannel = "employed"
	// ChannelCompany pays the candidate via an intermediary company.
	ChannelCompany PayChannel = "company"
)

func (c PayChannel) Valid() bool {
	return c == ChannelEmployed || c == ChannelCompany
}

// =============================================================================
// PAY-TIME POLICY - Client rules for classifying shift hours
// =============================================================================

// PayTimePolicy holds a client's rules for splitting worked time into
// pay buckets. The day window is expressed in minutes of the local day:
// [DayStartMinute, DayEndMinute) is day, the rest is night. Weekend and
// bank-holiday membership take precedence over the day/night split.
type PayTimePolicy struct {
	Timezone        string // IANA name, e.g. "Europe/London"
	DayStartMinute  int    // e.g. 360 for 06:00
	DayEndMinute    int    // e.g. 1200 for 20:00
	HolidayCalendar string // bank-holiday calendar name, "" = none
}

// Location resolves the policy timezone, defaulting to UTC.
func (p PayTimePolicy) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// =============================================================================
// EXTERNAL RECORDS - Candidate and client context consumed by the engine
// =============================================================================

// Candidate is the engine's read-only view of a worker: the pay channel
// and whether the channel's payment details are complete enough to pay.
type Candidate struct {
	ID                     string
	Name                   string
	Channel                PayChannel
	BankDetailsComplete    bool // required for ChannelEmployed
	CompanyDetailsComplete bool // required for ChannelCompany
}

// ChannelDetailsComplete reports whether the details required by the
// candidate's pay channel are present.
func (c Candidate) ChannelDetailsComplete() bool {
	switch c.Channel {
	case ChannelEmployed:
		return c.BankDetailsComplete
	case ChannelCompany:
		return c.CompanyDetailsComplete
	default:
		return false
	}
}

// Client is the engine's read-only view of a billed client.
type Client struct {
	ID     string
	Name   string
	Policy PayTimePolicy
}

// FeatureFlags are global switches read per request from the store.
type FeatureFlags struct {
	ValidationRequired bool // promotion requires a passing validation record
	ReferenceRequired  bool // promotion requires a timesheet reference number
}

// =============================================================================
// TIMESHEET - A versioned worked-shift record
// =============================================================================

// Interval is a half-open instant range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// BreakSpec is either one or more explicit break intervals or a bare
// duration. Explicit intervals are classified and subtracted per
// bucket; a bare duration is subtracted largest-bucket-first.
type BreakSpec struct {
	Intervals []Interval
	Duration  time.Duration
}

func (b BreakSpec) IsZero() bool {
	return len(b.Intervals) == 0 && b.Duration == 0
}

// Timesheet is one version of a worked-shift record. Versions are never
// mutated: a resubmission inserts a higher version and clears the prior
// version's IsCurrent flag.
type Timesheet struct {
	ID        string
	Version   int
	IsCurrent bool

	CandidateID string // "" when no candidate matched yet
	ClientID    string // "" when the shift context resolves no client
	Role        string
	Band        string // "" = unbanded

	StartAt time.Time
	EndAt   time.Time
	Break   BreakSpec

	ReferenceNumber string
	ExpenseCharge   decimal.Decimal
	MileageCharge   decimal.Decimal
	EvidenceRef     string

	AuthorisedAt  *time.Time
	RevokedAt     *time.Time
	RevokedReason string

	CreatedAt time.Time
}

// Revoked reports whether this version has been withdrawn. A revoked
// timesheet recomputes to a neutral marker, not an error.
func (t Timesheet) Revoked() bool { return t.RevokedAt != nil }
