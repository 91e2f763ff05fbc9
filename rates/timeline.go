/*
timeline.go - Window and override insertion protocol

PURPOSE:
  Administrative writes against the rate timeline. The protocol keeps
  each scope's active windows non-overlapping without making callers
  pre-compute boundaries:

  1. Find the incumbent window covering the new start date N.
     - starts exactly at N: duplicate start, rejected.
     - open-ended and starts before N: truncated to N-1.
     - already closed: a back-cut, rejected - re-cutting a window whose
       end was fixed by a later insert would silently rewrite history.
  2. Find the next window starting strictly after N and clamp the new
     window's end to (next start - 1), unless the caller supplied an
     earlier end.

  Overrides follow the same two steps, additionally scoped by pay
  channel, and are gated on an active window existing for the same
  (client, role, band) scope.

  Rejections never partially apply: the incumbent truncation and the
  new record's insert land in one store transaction, only once the
  request has fully validated.

  Re-enabling a disabled window re-checks the non-overlap invariant
  against windows inserted for the scope while it was out.
*/
package rates

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/timesheet-engine/engine"
)

// Timeline performs administrative inserts against the rate timeline.
type Timeline struct {
	store Store
}

func NewTimeline(store Store) *Timeline {
	return &Timeline{store: store}
}

// =============================================================================
// REQUESTS
// =============================================================================

// WindowRequest creates a new ClientRateWindow starting at From.
type WindowRequest struct {
	ClientID string
	Role     string
	Band     *string
	From     engine.Date
	To       *engine.Date // nil = open-ended (may be clamped by a later window)

	Charge      engine.RateCard
	EmployedPay engine.RateCard
	CompanyPay  engine.RateCard
}

// OverrideRequest creates a new CandidateRateOverride starting at From.
type OverrideRequest struct {
	CandidateID string
	ClientID    string
	Role        string
	Band        *string
	Channel     engine.PayChannel
	From        engine.Date
	To          *engine.Date

	Pay engine.RateCard
}

// =============================================================================
// WINDOW INSERTION
// =============================================================================

// InsertWindow applies the two-step protocol and persists the new
// window. On conflict nothing is written or truncated.
func (t *Timeline) InsertWindow(ctx context.Context, req WindowRequest) (*ClientRateWindow, error) {
	if err := validateRange("window", req.ClientID, req.Role, req.From, req.To); err != nil {
		return nil, err
	}
	if req.Charge.Zero() {
		return nil, &engine.FieldError{Field: "charge", Reason: "at least one charge rate is required"}
	}

	incumbent, err := t.store.ActiveWindow(ctx, req.ClientID, req.Role, req.Band, req.From)
	if err != nil {
		return nil, err
	}
	if err := checkIncumbent(incumbentRange(incumbent), req.From); err != nil {
		return nil, err
	}

	next, err := t.store.NextWindowAfter(ctx, req.ClientID, req.Role, req.Band, req.From)
	if err != nil {
		return nil, err
	}
	end := clampEnd(req.To, nextStart(next))

	var truncate *Truncation
	if incumbent != nil {
		truncate = &Truncation{ID: incumbent.ID, End: req.From.AddDays(-1)}
	}

	w := ClientRateWindow{
		ID:          uuid.NewString(),
		ClientID:    req.ClientID,
		Role:        req.Role,
		Band:        req.Band,
		From:        req.From,
		To:          end,
		Charge:      req.Charge,
		EmployedPay: req.EmployedPay,
		CompanyPay:  req.CompanyPay,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.store.InsertWindow(ctx, w, truncate); err != nil {
		return nil, err
	}
	return &w, nil
}

// DisableWindow soft-disables a window. The row is retained for audit
// and excluded from resolution.
func (t *Timeline) DisableWindow(ctx context.Context, id string) error {
	return t.store.SetWindowDisabled(ctx, id, true)
}

// EnableWindow re-enables a previously disabled window. The
// non-overlap invariant is re-checked first: windows inserted for the
// same scope while this one was out may now occupy its range, and two
// enabled windows covering the same date would make resolution
// arbitrary.
func (t *Timeline) EnableWindow(ctx context.Context, id string) error {
	w, err := t.store.GetWindow(ctx, id)
	if err != nil {
		return err
	}
	if w == nil {
		return engine.ErrWindowNotFound
	}
	if !w.Disabled {
		return nil
	}

	cover, err := t.store.ActiveWindow(ctx, w.ClientID, w.Role, w.Band, w.From)
	if err != nil {
		return err
	}
	if cover != nil {
		return &TimelineConflictError{Kind: ConflictOverlap, BlockingID: cover.ID, Start: w.From}
	}
	next, err := t.store.NextWindowAfter(ctx, w.ClientID, w.Role, w.Band, w.From)
	if err != nil {
		return err
	}
	if next != nil && (w.To == nil || !next.From.After(*w.To)) {
		return &TimelineConflictError{Kind: ConflictOverlap, BlockingID: next.ID, Start: next.From}
	}

	return t.store.SetWindowDisabled(ctx, id, false)
}

// =============================================================================
// OVERRIDE INSERTION
// =============================================================================

// InsertOverride applies the window-existence gate and then the same
// two-step protocol, scoped additionally by pay channel.
func (t *Timeline) InsertOverride(ctx context.Context, req OverrideRequest) (*CandidateRateOverride, error) {
	if err := validateRange("override", req.ClientID, req.Role, req.From, req.To); err != nil {
		return nil, err
	}
	if req.CandidateID == "" {
		return nil, &engine.FieldError{Field: "candidate_id", Reason: "required"}
	}
	if !req.Channel.Valid() {
		return nil, &engine.FieldError{Field: "channel", Reason: "must be employed or company"}
	}
	if req.Pay.Zero() {
		return nil, &engine.FieldError{Field: "pay", Reason: "at least one pay rate is required"}
	}

	// Step 0: an override only exists inside an active window for the
	// same scope. The override's range is clamped into that window.
	window, err := t.store.ActiveWindow(ctx, req.ClientID, req.Role, req.Band, req.From)
	if err != nil {
		return nil, err
	}
	if window == nil && req.Band != nil {
		window, err = t.store.ActiveWindow(ctx, req.ClientID, req.Role, nil, req.From)
		if err != nil {
			return nil, err
		}
	}
	if window == nil {
		return nil, &TimelineConflictError{
			Kind:  ConflictNoWindow,
			Start: req.From,
		}
	}
	end := clampEnd(req.To, window.To)

	incumbent, err := t.store.ActiveOverride(ctx, req.CandidateID, req.ClientID, req.Role, req.Band, req.Channel, req.From)
	if err != nil {
		return nil, err
	}
	if err := checkIncumbent(overrideRange(incumbent), req.From); err != nil {
		return nil, err
	}

	next, err := t.store.NextOverrideAfter(ctx, req.CandidateID, req.ClientID, req.Role, req.Band, req.Channel, req.From)
	if err != nil {
		return nil, err
	}
	if next != nil {
		boundary := next.From.AddDays(-1)
		end = clampEnd(end, &boundary)
	}

	var truncate *Truncation
	if incumbent != nil {
		truncate = &Truncation{ID: incumbent.ID, End: req.From.AddDays(-1)}
	}

	o := CandidateRateOverride{
		ID:          uuid.NewString(),
		CandidateID: req.CandidateID,
		ClientID:    req.ClientID,
		Role:        req.Role,
		Band:        req.Band,
		Channel:     req.Channel,
		From:        req.From,
		To:          end,
		Pay:         req.Pay,
		CreatedAt:   time.Now().UTC(),
	}
	if err := t.store.InsertOverride(ctx, o, truncate); err != nil {
		return nil, err
	}
	return &o, nil
}

// =============================================================================
// PROTOCOL HELPERS
// =============================================================================

// dateRange is the (id, from, to) triple the protocol steps care about,
// shared between windows and overrides.
type dateRange struct {
	id   string
	from engine.Date
	to   *engine.Date
}

func incumbentRange(w *ClientRateWindow) *dateRange {
	if w == nil {
		return nil
	}
	return &dateRange{id: w.ID, from: w.From, to: w.To}
}

func overrideRange(o *CandidateRateOverride) *dateRange {
	if o == nil {
		return nil
	}
	return &dateRange{id: o.ID, from: o.From, to: o.To}
}

// checkIncumbent implements step 1 of the protocol against the record
// covering the new start date.
func checkIncumbent(inc *dateRange, start engine.Date) error {
	if inc == nil {
		return nil
	}
	if inc.from.Equal(start) {
		return &TimelineConflictError{Kind: ConflictDuplicateStart, BlockingID: inc.id, Start: start}
	}
	if inc.to != nil {
		// The incumbent was already closed by a later insert; cutting
		// it again from behind would rewrite settled history.
		return &TimelineConflictError{Kind: ConflictBackCut, BlockingID: inc.id, Start: start}
	}
	return nil
}

func nextStart(next *ClientRateWindow) *engine.Date {
	if next == nil {
		return nil
	}
	boundary := next.From.AddDays(-1)
	return &boundary
}

// clampEnd returns the earlier of the caller-supplied end and the
// boundary imposed by a later record.
func clampEnd(requested, boundary *engine.Date) *engine.Date {
	if boundary == nil {
		return requested
	}
	if requested == nil || requested.After(*boundary) {
		b := *boundary
		return &b
	}
	return requested
}

func validateRange(kind, clientID, role string, from engine.Date, to *engine.Date) error {
	if clientID == "" {
		return &engine.FieldError{Field: "client_id", Reason: "required"}
	}
	if role == "" {
		return &engine.FieldError{Field: "role", Reason: "required"}
	}
	if from.IsZero() {
		return &engine.FieldError{Field: "from", Reason: "required"}
	}
	if to != nil && to.Before(from) {
		return &engine.FieldError{Field: "to", Reason: fmt.Sprintf("%s range ends before it starts", kind)}
	}
	return nil
}

// =============================================================================
// ERROR TYPES
// =============================================================================

type ConflictKind string

const (
	ConflictDuplicateStart ConflictKind = "duplicate_start"
	ConflictBackCut        ConflictKind = "back_cut"
	ConflictNoWindow       ConflictKind = "no_active_window"
	ConflictOverlap        ConflictKind = "overlap"
)

// TimelineConflictError identifies the record blocking an insert.
type TimelineConflictError struct {
	Kind       ConflictKind
	BlockingID string
	Start      engine.Date
}

func (e *TimelineConflictError) Error() string {
	switch e.Kind {
	case ConflictDuplicateStart:
		return fmt.Sprintf("a window already starts on %s (id %s)", e.Start, e.BlockingID)
	case ConflictBackCut:
		return fmt.Sprintf("insert at %s would back-cut closed window %s", e.Start, e.BlockingID)
	case ConflictNoWindow:
		return fmt.Sprintf("no active client rate window covers %s", e.Start)
	case ConflictOverlap:
		return fmt.Sprintf("enabled window %s already covers %s", e.BlockingID, e.Start)
	default:
		return "rate timeline conflict"
	}
}

func (e *TimelineConflictError) Unwrap() error { return engine.ErrWindowConflict }
