package billing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/snapshot"
)

// =============================================================================
// PROMOTION GATE
// =============================================================================

// BlockReason is a specific, actionable reason a timesheet could not
// be promoted.
type BlockReason string

const (
	BlockNotReady             BlockReason = "NOT_READY"
	BlockValidationMissing    BlockReason = "VALIDATION_MISSING"
	BlockEvidenceMissing      BlockReason = "EVIDENCE_MISSING"
	BlockPayChannelIncomplete BlockReason = "PAY_CHANNEL_INCOMPLETE"
	BlockReferenceMissing     BlockReason = "REFERENCE_MISSING"
)

// Blocked pairs a timesheet with the first gate it failed.
type Blocked struct {
	TimesheetID string
	Reason      BlockReason
}

// PromotionResult reports the outcome per timesheet.
type PromotionResult struct {
	Promoted []string
	Blocked  []Blocked
}

// Gate validates batches of snapshots against the configured business
// rules before they become lock-eligible.
type Gate struct {
	store Store
	log   zerolog.Logger
}

func NewGate(store Store, log zerolog.Logger) *Gate {
	return &Gate{store: store, log: log}
}

// TryPromote checks each timesheet against the four gates and advances
// passing READY_FOR_HR snapshots to READY_FOR_INVOICE. Failures are
// reported individually; one blocked timesheet never blocks the rest.
func (g *Gate) TryPromote(ctx context.Context, timesheetIDs []string) (PromotionResult, error) {
	flags, err := g.store.FeatureFlags(ctx)
	if err != nil {
		return PromotionResult{}, fmt.Errorf("loading feature flags: %w", err)
	}

	var res PromotionResult
	for _, id := range timesheetIDs {
		reason, err := g.check(ctx, flags, id)
		if err != nil {
			return PromotionResult{}, err
		}
		if reason != "" {
			res.Blocked = append(res.Blocked, Blocked{TimesheetID: id, Reason: reason})
			continue
		}
		res.Promoted = append(res.Promoted, id)
	}

	g.log.Info().
		Int("promoted", len(res.Promoted)).
		Int("blocked", len(res.Blocked)).
		Msg("promotion pass complete")
	return res, nil
}

// check returns the first blocking reason, or "" when the timesheet
// passed every gate and its snapshot was promoted.
func (g *Gate) check(ctx context.Context, flags engine.FeatureFlags, timesheetID string) (BlockReason, error) {
	snap, err := g.store.CurrentSnapshot(ctx, timesheetID)
	if err != nil {
		return "", fmt.Errorf("loading snapshot for %s: %w", timesheetID, err)
	}
	if snap == nil || snap.Status != snapshot.StatusReadyForHR {
		return BlockNotReady, nil
	}

	if flags.ValidationRequired {
		rec, err := g.store.ValidationRecord(ctx, timesheetID)
		if err != nil {
			return "", fmt.Errorf("loading validation record for %s: %w", timesheetID, err)
		}
		if rec == nil || !rec.Passed() {
			return BlockValidationMissing, nil
		}
	}

	if (!snap.ExpenseCharge.IsZero() || !snap.MileageCharge.IsZero()) && snap.EvidenceRef == "" {
		return BlockEvidenceMissing, nil
	}

	cand, err := g.store.GetCandidate(ctx, snap.CandidateID)
	if err != nil {
		return "", fmt.Errorf("loading candidate %s: %w", snap.CandidateID, err)
	}
	if cand == nil || !cand.ChannelDetailsComplete() {
		return BlockPayChannelIncomplete, nil
	}

	if flags.ReferenceRequired {
		ts, err := g.store.GetTimesheet(ctx, timesheetID)
		if err != nil {
			return "", fmt.Errorf("loading timesheet %s: %w", timesheetID, err)
		}
		if ts == nil || ts.ReferenceNumber == "" {
			return BlockReferenceMissing, nil
		}
	}

	if err := g.store.PromoteSnapshot(ctx, snap.ID); err != nil {
		if engine.IsConflict(err) {
			// Someone else moved the snapshot under us; report it as
			// not ready rather than failing the whole batch.
			return BlockNotReady, nil
		}
		return "", err
	}
	return "", nil
}
