/*
handlers.go - HTTP handlers for the administrative API

PURPOSE:
  Exposes the engine's write paths and read models over REST. Handlers
  parse and validate the wire shapes, delegate to the domain components
  (timeline, writer, gate, invoice manager) and map domain errors onto
  HTTP statuses.

ENDPOINTS:
  Timesheets:
    POST   /api/timesheets                 Submit a timesheet version
    GET    /api/timesheets/{id}            Current version
    POST   /api/timesheets/{id}/revoke     Withdraw the current version
    POST   /api/timesheets/{id}/recompute  Synchronous recompute
    GET    /api/timesheets/{id}/snapshot   Current financial snapshot

  Context:
    PUT    /api/candidates/{id}            Upsert candidate
    PUT    /api/clients/{id}               Upsert client + pay-time policy
    POST   /api/holidays                   Add a bank holiday

  Rates:
    POST   /api/rates/windows              Open a client rate window
    POST   /api/rates/windows/{id}/disable Disable (soft) a window
    POST   /api/rates/windows/{id}/enable  Re-enable a window
    POST   /api/rates/overrides            Open a candidate pay override

  Billing:
    POST   /api/promotions                 Gate a batch toward invoicing
    POST   /api/invoices                   Create an invoice
    GET    /api/invoices/{id}              Invoice with lines
    POST   /api/invoices/{id}/issue        DRAFT -> ISSUED
    POST   /api/invoices/{id}/hold         ISSUED -> ON_HOLD
    POST   /api/invoices/{id}/resume       ON_HOLD -> ISSUED
    POST   /api/invoices/{id}/pay          ISSUED -> PAID
    POST   /api/invoices/{id}/credit-note  Reverse and release locks

  Admin:
    POST   /api/validations                Record an external check result
    PUT    /api/admin/flags/{name}         Toggle a feature flag
    GET    /api/admin/outbox/parked        Parked recompute items

ERROR HANDLING:
  Errors are returned as JSON with the status derived from the domain
  error category:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (timeline collision, locked snapshot, invalid
         status transition, nothing to invoice, mixed clients)
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. The API is meant to sit behind the
  platform's internal gateway, never on a public interface.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/rates"
	"github.com/warp/timesheet-engine/snapshot"
	"github.com/warp/timesheet-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Timeline *rates.Timeline
	Writer   *snapshot.Writer
	Gate     *billing.Gate
	Invoices *billing.Manager

	log zerolog.Logger
}

// NewHandler wires a handler over an already-constructed pipeline.
func NewHandler(store *sqlite.Store, writer *snapshot.Writer, gate *billing.Gate, invoices *billing.Manager, log zerolog.Logger) *Handler {
	return &Handler{
		Store:    store,
		Timeline: rates.NewTimeline(store),
		Writer:   writer,
		Gate:     gate,
		Invoices: invoices,
		log:      log,
	}
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

// SubmitTimesheet inserts a new timesheet version. Recompute is queued
// by the store, not performed inline.
func (h *Handler) SubmitTimesheet(w http.ResponseWriter, r *http.Request) {
	var req SubmitTimesheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Version <= 0 {
		writeError(w, http.StatusBadRequest, "id and a positive version are required", nil)
		return
	}

	ts := engine.Timesheet{
		ID:              req.ID,
		Version:         req.Version,
		CandidateID:     req.CandidateID,
		ClientID:        req.ClientID,
		Role:            req.Role,
		Band:            req.Band,
		ReferenceNumber: req.ReferenceNumber,
		EvidenceRef:     req.EvidenceRef,
		CreatedAt:       time.Now().UTC(),
	}

	var err error
	if ts.StartAt, err = time.Parse(time.RFC3339, req.StartAt); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
		return
	}
	if ts.EndAt, err = time.Parse(time.RFC3339, req.EndAt); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_at (use RFC3339)", err)
		return
	}
	if ts.ExpenseCharge, err = parseAmount(req.ExpenseCharge); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expense_charge", err)
		return
	}
	if ts.MileageCharge, err = parseAmount(req.MileageCharge); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid mileage_charge", err)
		return
	}
	if req.Break != nil {
		ts.Break.Duration = time.Duration(req.Break.DurationMinutes) * time.Minute
		for _, iv := range req.Break.Intervals {
			start, err := time.Parse(time.RFC3339, iv.Start)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid break interval start", err)
				return
			}
			end, err := time.Parse(time.RFC3339, iv.End)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid break interval end", err)
				return
			}
			ts.Break.Intervals = append(ts.Break.Intervals, engine.Interval{Start: start, End: end})
		}
	}

	if err := h.Store.InsertTimesheetVersion(r.Context(), ts); err != nil {
		writeDomainError(w, "Failed to submit timesheet", err)
		return
	}

	h.log.Info().Str("timesheet", ts.ID).Int("version", ts.Version).Msg("timesheet submitted")
	writeJSON(w, http.StatusCreated, toTimesheetDTO(ts))
}

// GetTimesheet returns the current version of a timesheet.
func (h *Handler) GetTimesheet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ts, err := h.Store.GetTimesheet(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get timesheet", err)
		return
	}
	if ts == nil {
		writeError(w, http.StatusNotFound, "Timesheet not found", nil)
		return
	}

	writeJSON(w, http.StatusOK, toTimesheetDTO(*ts))
}

// RevokeTimesheet withdraws the current version and queues the neutral
// recompute.
func (h *Handler) RevokeTimesheet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req RevokeTimesheetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.RevokeTimesheet(r.Context(), id, req.Reason, time.Now().UTC()); err != nil {
		writeDomainError(w, "Failed to revoke timesheet", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

// RecomputeTimesheet runs a synchronous recompute, bypassing the outbox.
// Useful for operator debugging; the outbox path is the normal one.
func (h *Handler) RecomputeTimesheet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.Writer.Recompute(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Recompute failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(*snap))
}

// GetSnapshot returns the current financial snapshot of a timesheet.
func (h *Handler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := h.Store.CurrentSnapshot(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get snapshot", err)
		return
	}
	if snap == nil {
		writeError(w, http.StatusNotFound, "No snapshot computed yet", nil)
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotDTO(*snap))
}

// =============================================================================
// CONTEXT HANDLERS - candidates, clients, holidays
// =============================================================================

// UpsertCandidate creates or replaces a candidate record.
func (h *Handler) UpsertCandidate(w http.ResponseWriter, r *http.Request) {
	var req CandidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")

	channel := engine.PayChannel(req.Channel)
	if !channel.Valid() {
		writeError(w, http.StatusBadRequest, "channel must be \"employed\" or \"company\"", nil)
		return
	}

	err := h.Store.UpsertCandidate(r.Context(), engine.Candidate{
		ID:                     req.ID,
		Name:                   req.Name,
		Channel:                channel,
		BankDetailsComplete:    req.BankDetailsComplete,
		CompanyDetailsComplete: req.CompanyDetailsComplete,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to upsert candidate", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// UpsertClient creates or replaces a client record and its policy.
func (h *Handler) UpsertClient(w http.ResponseWriter, r *http.Request) {
	var req ClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = chi.URLParam(r, "id")

	err := h.Store.UpsertClient(r.Context(), engine.Client{
		ID:   req.ID,
		Name: req.Name,
		Policy: engine.PayTimePolicy{
			Timezone:        req.Policy.Timezone,
			DayStartMinute:  req.Policy.DayStartMinute,
			DayEndMinute:    req.Policy.DayEndMinute,
			HolidayCalendar: req.Policy.HolidayCalendar,
		},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to upsert client", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// AddHoliday adds one bank holiday to a named calendar.
func (h *Handler) AddHoliday(w http.ResponseWriter, r *http.Request) {
	var req HolidayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Calendar == "" {
		writeError(w, http.StatusBadRequest, "calendar is required", nil)
		return
	}

	day, err := engine.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date (use YYYY-MM-DD)", err)
		return
	}

	if err := h.Store.AddBankHoliday(r.Context(), req.Calendar, day, req.Name); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to add holiday", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// =============================================================================
// RATE HANDLERS
// =============================================================================

// CreateRateWindow opens a client default rate window through the
// timeline protocol. Conflicts come back as 409 with the blocking
// window identified in the details.
func (h *Handler) CreateRateWindow(w http.ResponseWriter, r *http.Request) {
	var req RateWindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	from, err := engine.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := parseDatePtr(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	win, err := h.Timeline.InsertWindow(r.Context(), rates.WindowRequest{
		ClientID:    req.ClientID,
		Role:        req.Role,
		Band:        req.Band,
		From:        from,
		To:          to,
		Charge:      fromRateCardDTO(req.Charge),
		EmployedPay: fromRateCardDTO(req.EmployedPay),
		CompanyPay:  fromRateCardDTO(req.CompanyPay),
	})
	if err != nil {
		writeDomainError(w, "Failed to create rate window", err)
		return
	}

	writeJSON(w, http.StatusCreated, toRateWindowDTO(*win))
}

// DisableRateWindow soft-disables a window; resolution skips it.
func (h *Handler) DisableRateWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.Timeline.DisableWindow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to disable window", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
}

// EnableRateWindow re-enables a previously disabled window.
func (h *Handler) EnableRateWindow(w http.ResponseWriter, r *http.Request) {
	if err := h.Timeline.EnableWindow(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to enable window", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled"})
}

// CreateRateOverride opens a candidate pay override. Requires an active
// window for the scope; the override is clamped inside it.
func (h *Handler) CreateRateOverride(w http.ResponseWriter, r *http.Request) {
	var req RateOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	channel := engine.PayChannel(req.Channel)
	if !channel.Valid() {
		writeError(w, http.StatusBadRequest, "channel must be \"employed\" or \"company\"", nil)
		return
	}
	from, err := engine.ParseDate(req.From)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
		return
	}
	to, err := parseDatePtr(req.To)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
		return
	}

	ov, err := h.Timeline.InsertOverride(r.Context(), rates.OverrideRequest{
		CandidateID: req.CandidateID,
		ClientID:    req.ClientID,
		Role:        req.Role,
		Band:        req.Band,
		Channel:     channel,
		From:        from,
		To:          to,
		Pay:         fromRateCardDTO(req.Pay),
	})
	if err != nil {
		writeDomainError(w, "Failed to create rate override", err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": ov.ID})
}

// =============================================================================
// BILLING HANDLERS
// =============================================================================

// Promote runs a batch through the promotion gate. Blocked timesheets
// are reported per item; the request itself succeeds.
func (h *Handler) Promote(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if len(req.TimesheetIDs) == 0 {
		writeError(w, http.StatusBadRequest, "timesheet_ids must not be empty", nil)
		return
	}

	res, err := h.Gate.TryPromote(r.Context(), req.TimesheetIDs)
	if err != nil {
		writeDomainError(w, "Promotion failed", err)
		return
	}

	dto := PromotionResultDTO{Promoted: res.Promoted, Blocked: []BlockedDTO{}}
	if dto.Promoted == nil {
		dto.Promoted = []string{}
	}
	for _, b := range res.Blocked {
		dto.Blocked = append(dto.Blocked, BlockedDTO{TimesheetID: b.TimesheetID, Reason: string(b.Reason)})
	}
	writeJSON(w, http.StatusOK, dto)
}

// CreateInvoice builds an invoice over the eligible snapshots of the
// requested timesheets, locking each selected snapshot.
func (h *Handler) CreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	inv, err := h.Invoices.CreateInvoice(r.Context(), req.TimesheetIDs)
	if err != nil {
		writeDomainError(w, "Failed to create invoice", err)
		return
	}

	lines, err := h.Store.InvoiceLines(r.Context(), inv.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoice lines", err)
		return
	}

	writeJSON(w, http.StatusCreated, toInvoiceDTO(*inv, lines))
}

// GetInvoice returns an invoice with its lines.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	inv, err := h.Store.GetInvoice(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get invoice", err)
		return
	}
	if inv == nil {
		writeError(w, http.StatusNotFound, "Invoice not found", nil)
		return
	}

	lines, err := h.Store.InvoiceLines(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load invoice lines", err)
		return
	}

	writeJSON(w, http.StatusOK, toInvoiceDTO(*inv, lines))
}

// IssueInvoice moves DRAFT -> ISSUED.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Invoices.Issue, "ISSUED")
}

// HoldInvoice moves ISSUED -> ON_HOLD.
func (h *Handler) HoldInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Invoices.Hold, "ON_HOLD")
}

// ResumeInvoice moves ON_HOLD -> ISSUED.
func (h *Handler) ResumeInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Invoices.Resume, "ISSUED")
}

// PayInvoice moves ISSUED -> PAID.
func (h *Handler) PayInvoice(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.Invoices.MarkPaid, "PAID")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, move func(context.Context, string) error, to string) {
	id := chi.URLParam(r, "id")
	if err := move(r.Context(), id); err != nil {
		writeDomainError(w, "Invoice transition failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": to})
}

// IssueCreditNote reverses an invoice and releases its snapshot locks.
func (h *Handler) IssueCreditNote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cn, err := h.Invoices.IssueCreditNote(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to issue credit note", err)
		return
	}

	writeJSON(w, http.StatusCreated, CreditNoteDTO{
		ID:        cn.ID,
		InvoiceID: cn.InvoiceID,
		Total:     cn.Total.String(),
		CreatedAt: cn.CreatedAt.Format(time.RFC3339),
	})
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// PutValidation records an externally-performed check result.
func (h *Handler) PutValidation(w http.ResponseWriter, r *http.Request) {
	var req ValidationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TimesheetID == "" || req.Status == "" {
		writeError(w, http.StatusBadRequest, "timesheet_id and status are required", nil)
		return
	}

	err := h.Store.PutValidationRecord(r.Context(), billing.ValidationRecord{
		TimesheetID: req.TimesheetID,
		Status:      req.Status,
		CheckedAt:   time.Now().UTC(),
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to record validation", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

// SetFlag toggles a named feature flag.
func (h *Handler) SetFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req FlagRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.Store.SetFeatureFlag(r.Context(), name, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to set flag", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"name": name, "enabled": req.Enabled})
}

// ListParked returns recompute items that exhausted their retries.
func (h *Handler) ListParked(w http.ResponseWriter, r *http.Request) {
	items, err := h.Store.ParkedItems(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list parked items", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": toOutboxItemDTOs(items)})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps the engine's error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case engine.IsInputError(err):
		return http.StatusBadRequest
	case engine.IsNotFound(err):
		return http.StatusNotFound
	case engine.IsConflict(err),
		errors.Is(err, engine.ErrMixedClients),
		errors.Is(err, engine.ErrNothingToInvoice):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func parseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func parseDatePtr(s *string) (*engine.Date, error) {
	if s == nil {
		return nil, nil
	}
	d, err := engine.ParseDate(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func toRateWindowDTO(w rates.ClientRateWindow) RateWindowDTO {
	dto := RateWindowDTO{
		ID:       w.ID,
		ClientID: w.ClientID,
		Role:     w.Role,
		Band:     w.Band,
		From:     w.From.String(),
	}
	if w.To != nil {
		s := w.To.String()
		dto.To = &s
	}
	return dto
}
