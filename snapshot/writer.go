package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/rates"
)

// RateResolver is the slice of the rates package the Writer needs.
type RateResolver interface {
	Resolve(ctx context.Context, candidateID, clientID, role, band string, on engine.Date) (*rates.Resolution, error)
}

// =============================================================================
// SNAPSHOT WRITER
// =============================================================================

// Writer assembles classifier and resolver output into a new snapshot
// for a timesheet's current version. Recompute is idempotent: the same
// inputs always produce the same buckets, rates and totals.
type Writer struct {
	store      Store
	resolver   RateResolver
	classifier *engine.Classifier
	log        zerolog.Logger
}

func NewWriter(store Store, resolver RateResolver, classifier *engine.Classifier, log zerolog.Logger) *Writer {
	return &Writer{
		store:      store,
		resolver:   resolver,
		classifier: classifier,
		log:        log,
	}
}

// Recompute runs the full pipeline for one timesheet and persists the
// resulting snapshot. It always recomputes from scratch; the recompute
// reason that triggered it is advisory only.
//
// Resolution gaps are states, not errors: the returned error is
// non-nil only for transient failures worth retrying.
func (w *Writer) Recompute(ctx context.Context, timesheetID string) (*FinancialSnapshot, error) {
	ts, err := w.store.GetTimesheet(ctx, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("loading timesheet %s: %w", timesheetID, err)
	}
	if ts == nil || ts.Revoked() {
		return w.writeRevokedMarker(ctx, timesheetID, ts)
	}

	snap := FinancialSnapshot{
		ID:            uuid.NewString(),
		TimesheetID:   ts.ID,
		Version:       ts.Version,
		CandidateID:   ts.CandidateID,
		ClientID:      ts.ClientID,
		ExpenseCharge: ts.ExpenseCharge,
		MileageCharge: ts.MileageCharge,
		EvidenceRef:   ts.EvidenceRef,
		ComputedAt:    time.Now().UTC(),
	}

	status, err := w.evaluate(ctx, ts, &snap)
	if err != nil {
		return nil, err
	}
	snap.Status = status

	saved, err := w.store.SaveSnapshot(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("saving snapshot for %s v%d: %w", ts.ID, ts.Version, err)
	}

	w.log.Debug().
		Str("timesheet_id", ts.ID).
		Int("version", ts.Version).
		Str("status", string(saved.Status)).
		Msg("snapshot written")
	return &saved, nil
}

// evaluate walks the status ladder in its fixed order, filling in the
// snapshot's financial fields as far as the available data allows.
func (w *Writer) evaluate(ctx context.Context, ts *engine.Timesheet, snap *FinancialSnapshot) (ProcessingStatus, error) {
	if ts.CandidateID == "" {
		return StatusUnassigned, nil
	}
	cand, err := w.store.GetCandidate(ctx, ts.CandidateID)
	if err != nil {
		return "", fmt.Errorf("loading candidate %s: %w", ts.CandidateID, err)
	}
	if cand == nil {
		return StatusUnassigned, nil
	}
	snap.Channel = cand.Channel

	if ts.ClientID == "" {
		return StatusClientUnresolved, nil
	}
	client, err := w.store.GetClient(ctx, ts.ClientID)
	if err != nil {
		return "", fmt.Errorf("loading client %s: %w", ts.ClientID, err)
	}
	if client == nil {
		return StatusClientUnresolved, nil
	}

	hours, err := w.classifier.Classify(client.Policy, *ts)
	if err != nil {
		return "", fmt.Errorf("classifying timesheet %s v%d: %w", ts.ID, ts.Version, err)
	}
	snap.Hours = hours

	loc, err := client.Policy.Location()
	if err != nil {
		return "", err
	}
	on := engine.DateOf(ts.StartAt, loc)

	res, err := w.resolver.Resolve(ctx, ts.CandidateID, ts.ClientID, ts.Role, ts.Band, on)
	switch {
	case errors.Is(err, engine.ErrMissingRate):
		return StatusRateMissing, nil
	case errors.Is(err, engine.ErrCandidateNotFound):
		return StatusUnassigned, nil
	case err != nil:
		return "", err
	}
	snap.PayRates = res.Pay
	snap.ChargeRates = res.Charge
	snap.Channel = res.Channel

	// A window can exist yet leave a worked bucket without a rate.
	if !res.Pay.CoversHours(hours) || !res.Charge.CoversHours(hours) {
		return StatusRateMissing, nil
	}

	// Totals are rounded to 2dp at the total level only, so
	// margin = charge - pay holds exactly.
	snap.PayTotal = hours.Extend(res.Pay)
	snap.ChargeTotal = hours.Extend(res.Charge)
	snap.Margin = snap.ChargeTotal.Sub(snap.PayTotal)

	if !cand.ChannelDetailsComplete() {
		return StatusPayChannelMissing, nil
	}
	return StatusReadyForHR, nil
}

// writeRevokedMarker records that the timesheet version is gone. This
// is a success: revocation is normal, and acknowledging it keeps the
// outbox clean.
func (w *Writer) writeRevokedMarker(ctx context.Context, timesheetID string, ts *engine.Timesheet) (*FinancialSnapshot, error) {
	marker := FinancialSnapshot{
		ID:          uuid.NewString(),
		TimesheetID: timesheetID,
		Status:      StatusRevoked,
		ComputedAt:  time.Now().UTC(),
	}
	if ts != nil {
		marker.Version = ts.Version
		marker.CandidateID = ts.CandidateID
		marker.ClientID = ts.ClientID
	}

	saved, err := w.store.SaveSnapshot(ctx, marker)
	if err != nil {
		return nil, fmt.Errorf("saving revoked marker for %s: %w", timesheetID, err)
	}
	w.log.Debug().Str("timesheet_id", timesheetID).Msg("revoked marker written")
	return &saved, nil
}
