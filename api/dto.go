/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

WIRE CONVENTIONS:
  - Instants:  RFC3339
  - Dates:     YYYY-MM-DD
  - Money:     decimal strings ("32.50"); a null rate means "unresolved",
    which is different from "0"
  - Durations: minutes as integers

SEE ALSO:
  - handlers.go: Uses these types
  - engine/money.go: Money null semantics these DTOs must preserve
*/
package api

import (
	"time"

	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/snapshot"
)

// =============================================================================
// TIMESHEETS
// =============================================================================

// IntervalDTO is a half-open instant range.
type IntervalDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// BreakDTO carries either explicit intervals or a bare duration.
type BreakDTO struct {
	Intervals       []IntervalDTO `json:"intervals,omitempty"`
	DurationMinutes int           `json:"duration_minutes,omitempty"`
}

// SubmitTimesheetRequest inserts a new timesheet version.
type SubmitTimesheetRequest struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	CandidateID string `json:"candidate_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Role        string `json:"role"`
	Band        string `json:"band,omitempty"`

	StartAt string    `json:"start_at"`
	EndAt   string    `json:"end_at"`
	Break   *BreakDTO `json:"break,omitempty"`

	ReferenceNumber string `json:"reference_number,omitempty"`
	ExpenseCharge   string `json:"expense_charge,omitempty"`
	MileageCharge   string `json:"mileage_charge,omitempty"`
	EvidenceRef     string `json:"evidence_ref,omitempty"`
}

// RevokeTimesheetRequest withdraws the current version.
type RevokeTimesheetRequest struct {
	Reason string `json:"reason"`
}

// TimesheetDTO represents the current version of a timesheet.
type TimesheetDTO struct {
	ID          string `json:"id"`
	Version     int    `json:"version"`
	CandidateID string `json:"candidate_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Role        string `json:"role"`
	Band        string `json:"band,omitempty"`

	StartAt string    `json:"start_at"`
	EndAt   string    `json:"end_at"`
	Break   *BreakDTO `json:"break,omitempty"`

	ReferenceNumber string `json:"reference_number,omitempty"`
	ExpenseCharge   string `json:"expense_charge"`
	MileageCharge   string `json:"mileage_charge"`
	EvidenceRef     string `json:"evidence_ref,omitempty"`

	RevokedAt     string `json:"revoked_at,omitempty"`
	RevokedReason string `json:"revoked_reason,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// =============================================================================
// CANDIDATES AND CLIENTS
// =============================================================================

// CandidateRequest upserts a candidate record.
type CandidateRequest struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	Channel                string `json:"channel"` // "employed" or "company"
	BankDetailsComplete    bool   `json:"bank_details_complete"`
	CompanyDetailsComplete bool   `json:"company_details_complete"`
}

// ClientRequest upserts a client record with its pay-time policy.
type ClientRequest struct {
	ID     string       `json:"id"`
	Name   string       `json:"name"`
	Policy PayPolicyDTO `json:"policy"`
}

// PayPolicyDTO is a client's hour-classification policy.
type PayPolicyDTO struct {
	Timezone        string `json:"timezone,omitempty"`
	DayStartMinute  int    `json:"day_start_minute"`
	DayEndMinute    int    `json:"day_end_minute"`
	HolidayCalendar string `json:"holiday_calendar,omitempty"`
}

// HolidayRequest adds one bank holiday to a named calendar.
type HolidayRequest struct {
	Calendar string `json:"calendar"`
	Date     string `json:"date"`
	Name     string `json:"name"`
}

// =============================================================================
// RATES
// =============================================================================

// RateCardDTO carries one rate per hour bucket. A null bucket means
// "unresolved"; it is never coerced to zero.
type RateCardDTO struct {
	Day         *string `json:"day,omitempty"`
	Night       *string `json:"night,omitempty"`
	Saturday    *string `json:"saturday,omitempty"`
	Sunday      *string `json:"sunday,omitempty"`
	BankHoliday *string `json:"bank_holiday,omitempty"`
}

// RateWindowRequest opens a client default rate window.
type RateWindowRequest struct {
	ClientID string  `json:"client_id"`
	Role     string  `json:"role"`
	Band     *string `json:"band,omitempty"`
	From     string  `json:"from"`
	To       *string `json:"to,omitempty"` // nil = open-ended

	Charge      RateCardDTO `json:"charge"`
	EmployedPay RateCardDTO `json:"employed_pay"`
	CompanyPay  RateCardDTO `json:"company_pay"`
}

// RateOverrideRequest opens a candidate-specific pay override.
type RateOverrideRequest struct {
	CandidateID string  `json:"candidate_id"`
	ClientID    string  `json:"client_id"`
	Role        string  `json:"role"`
	Band        *string `json:"band,omitempty"`
	Channel     string  `json:"channel"`
	From        string  `json:"from"`
	To          *string `json:"to,omitempty"`

	Pay RateCardDTO `json:"pay"`
}

// RateWindowDTO is the persisted window as stored, ends clamped.
type RateWindowDTO struct {
	ID       string  `json:"id"`
	ClientID string  `json:"client_id"`
	Role     string  `json:"role"`
	Band     *string `json:"band,omitempty"`
	From     string  `json:"from"`
	To       *string `json:"to,omitempty"`
}

// =============================================================================
// SNAPSHOTS AND PROMOTION
// =============================================================================

// HoursDTO is the classified hour split.
type HoursDTO struct {
	Day         string `json:"day"`
	Night       string `json:"night"`
	Saturday    string `json:"saturday"`
	Sunday      string `json:"sunday"`
	BankHoliday string `json:"bank_holiday"`
}

// SnapshotDTO represents a financial snapshot.
type SnapshotDTO struct {
	ID          string `json:"id"`
	TimesheetID string `json:"timesheet_id"`
	Version     int    `json:"version"`
	Status      string `json:"status"`

	CandidateID string `json:"candidate_id,omitempty"`
	ClientID    string `json:"client_id,omitempty"`
	Channel     string `json:"channel,omitempty"`

	Hours       HoursDTO    `json:"hours"`
	PayRates    RateCardDTO `json:"pay_rates"`
	ChargeRates RateCardDTO `json:"charge_rates"`

	PayTotal    string `json:"pay_total"`
	ChargeTotal string `json:"charge_total"`
	Margin      string `json:"margin"`

	IsCurrent         bool   `json:"is_current"`
	LockedByInvoiceID string `json:"locked_by_invoice_id,omitempty"`
	Stale             bool   `json:"stale,omitempty"`
	ComputedAt        string `json:"computed_at"`
}

// PromoteRequest attempts to promote a batch of timesheets.
type PromoteRequest struct {
	TimesheetIDs []string `json:"timesheet_ids"`
}

// BlockedDTO reports one timesheet that failed promotion.
type BlockedDTO struct {
	TimesheetID string `json:"timesheet_id"`
	Reason      string `json:"reason"`
}

// PromotionResultDTO is the per-batch promotion outcome.
type PromotionResultDTO struct {
	Promoted []string     `json:"promoted"`
	Blocked  []BlockedDTO `json:"blocked"`
}

// =============================================================================
// INVOICING
// =============================================================================

// CreateInvoiceRequest builds an invoice over eligible snapshots.
type CreateInvoiceRequest struct {
	TimesheetIDs []string `json:"timesheet_ids"`
}

// InvoiceLineDTO references one locked snapshot.
type InvoiceLineDTO struct {
	ID          string `json:"id"`
	SnapshotID  string `json:"snapshot_id"`
	TimesheetID string `json:"timesheet_id"`
	Amount      string `json:"amount"`
}

// InvoiceDTO represents an invoice with its lines.
type InvoiceDTO struct {
	ID        string           `json:"id"`
	ClientID  string           `json:"client_id"`
	Status    string           `json:"status"`
	Total     string           `json:"total"`
	Lines     []InvoiceLineDTO `json:"lines,omitempty"`
	CreatedAt string           `json:"created_at"`
}

// CreditNoteDTO is the result of reversing an invoice.
type CreditNoteDTO struct {
	ID        string `json:"id"`
	InvoiceID string `json:"invoice_id"`
	Total     string `json:"total"`
	CreatedAt string `json:"created_at"`
}

// ValidationRequest records an external check result for a timesheet.
type ValidationRequest struct {
	TimesheetID string `json:"timesheet_id"`
	Status      string `json:"status"`
}

// FlagRequest toggles a named feature flag.
type FlagRequest struct {
	Enabled bool `json:"enabled"`
}

// OutboxItemDTO describes one queued or parked recompute.
type OutboxItemDTO struct {
	ID          string `json:"id"`
	TimesheetID string `json:"timesheet_id"`
	Reason      string `json:"reason"`
	Attempts    int    `json:"attempts"`
	Parked      bool   `json:"parked"`
	LastError   string `json:"last_error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toRateCardDTO(rc engine.RateCard) RateCardDTO {
	conv := func(m engine.Money) *string {
		if !m.Valid {
			return nil
		}
		s := m.Value.String()
		return &s
	}
	return RateCardDTO{
		Day:         conv(rc.Day),
		Night:       conv(rc.Night),
		Saturday:    conv(rc.Saturday),
		Sunday:      conv(rc.Sunday),
		BankHoliday: conv(rc.BankHoliday),
	}
}

func fromRateCardDTO(dto RateCardDTO) engine.RateCard {
	conv := func(s *string) engine.Money {
		if s == nil {
			return engine.Money{}
		}
		return engine.MoneyFromString(*s)
	}
	return engine.RateCard{
		Day:         conv(dto.Day),
		Night:       conv(dto.Night),
		Saturday:    conv(dto.Saturday),
		Sunday:      conv(dto.Sunday),
		BankHoliday: conv(dto.BankHoliday),
	}
}

func toTimesheetDTO(ts engine.Timesheet) TimesheetDTO {
	dto := TimesheetDTO{
		ID:              ts.ID,
		Version:         ts.Version,
		CandidateID:     ts.CandidateID,
		ClientID:        ts.ClientID,
		Role:            ts.Role,
		Band:            ts.Band,
		StartAt:         ts.StartAt.Format(time.RFC3339),
		EndAt:           ts.EndAt.Format(time.RFC3339),
		ReferenceNumber: ts.ReferenceNumber,
		ExpenseCharge:   ts.ExpenseCharge.String(),
		MileageCharge:   ts.MileageCharge.String(),
		EvidenceRef:     ts.EvidenceRef,
		RevokedReason:   ts.RevokedReason,
		CreatedAt:       ts.CreatedAt.Format(time.RFC3339),
	}
	if ts.RevokedAt != nil {
		dto.RevokedAt = ts.RevokedAt.Format(time.RFC3339)
	}
	if !ts.Break.IsZero() {
		b := &BreakDTO{DurationMinutes: int(ts.Break.Duration.Minutes())}
		for _, iv := range ts.Break.Intervals {
			b.Intervals = append(b.Intervals, IntervalDTO{
				Start: iv.Start.Format(time.RFC3339),
				End:   iv.End.Format(time.RFC3339),
			})
		}
		dto.Break = b
	}
	return dto
}

func toSnapshotDTO(s snapshot.FinancialSnapshot) SnapshotDTO {
	return SnapshotDTO{
		ID:          s.ID,
		TimesheetID: s.TimesheetID,
		Version:     s.Version,
		Status:      string(s.Status),
		CandidateID: s.CandidateID,
		ClientID:    s.ClientID,
		Channel:     string(s.Channel),
		Hours: HoursDTO{
			Day:         s.Hours.Day.String(),
			Night:       s.Hours.Night.String(),
			Saturday:    s.Hours.Saturday.String(),
			Sunday:      s.Hours.Sunday.String(),
			BankHoliday: s.Hours.BankHoliday.String(),
		},
		PayRates:          toRateCardDTO(s.PayRates),
		ChargeRates:       toRateCardDTO(s.ChargeRates),
		PayTotal:          s.PayTotal.String(),
		ChargeTotal:       s.ChargeTotal.String(),
		Margin:            s.Margin.String(),
		IsCurrent:         s.IsCurrent,
		LockedByInvoiceID: s.LockedByInvoiceID,
		Stale:             s.Stale,
		ComputedAt:        s.ComputedAt.Format(time.RFC3339),
	}
}

func toInvoiceDTO(inv billing.Invoice, lines []billing.Line) InvoiceDTO {
	dto := InvoiceDTO{
		ID:        inv.ID,
		ClientID:  inv.ClientID,
		Status:    string(inv.Status),
		Total:     inv.Total.String(),
		CreatedAt: inv.CreatedAt.Format(time.RFC3339),
	}
	for _, l := range lines {
		dto.Lines = append(dto.Lines, InvoiceLineDTO{
			ID:          l.ID,
			SnapshotID:  l.SnapshotID,
			TimesheetID: l.TimesheetID,
			Amount:      l.Amount.String(),
		})
	}
	return dto
}

func toOutboxItemDTOs(items []outbox.Item) []OutboxItemDTO {
	dtos := make([]OutboxItemDTO, len(items))
	for i, item := range items {
		dtos[i] = OutboxItemDTO{
			ID:          item.ID,
			TimesheetID: item.TimesheetID,
			Reason:      string(item.Reason),
			Attempts:    item.Attempts,
			Parked:      item.Parked,
			LastError:   item.LastError,
			CreatedAt:   item.CreatedAt.Format(time.RFC3339),
		}
	}
	return dtos
}
