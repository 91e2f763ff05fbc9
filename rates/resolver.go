package rates

import (
	"context"
	"fmt"

	"github.com/warp/timesheet-engine/engine"
)

// =============================================================================
// RATE RESOLVER - Two-tier override/window lookup with band fallback
// =============================================================================

// Resolver answers "what does this shift pay and charge on this date".
// It never invents a rate: a missing window is a MissingRateError the
// caller must surface as a pending-data state.
type Resolver struct {
	store Store
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up the applicable rates for a candidate working for a
// client in a role/band on a date.
//
// Lookup order:
//  1. candidate's pay channel (from the candidate record)
//  2. CandidateRateOverride for that channel: exact band, else unbanded
//  3. ClientRateWindow: exact band, else unbanded (enabled only)
//
// Charge rates always come from the window. Pay rates come from the
// override when one exists, else from the window's channel rate set.
func (r *Resolver) Resolve(ctx context.Context, candidateID, clientID, role, band string, on engine.Date) (*Resolution, error) {
	cand, err := r.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return nil, fmt.Errorf("loading candidate %s: %w", candidateID, err)
	}
	if cand == nil {
		return nil, engine.ErrCandidateNotFound
	}
	if !cand.Channel.Valid() {
		return nil, &engine.FieldError{Field: "candidate.channel", Reason: "unknown pay channel"}
	}

	bandPtr := bandScope(band)

	window, err := r.lookupWindow(ctx, clientID, role, bandPtr, on)
	if err != nil {
		return nil, err
	}
	if window == nil {
		return nil, &MissingRateError{
			ClientID: clientID,
			Role:     role,
			Band:     band,
			On:       on,
		}
	}

	override, err := r.lookupOverride(ctx, candidateID, clientID, role, bandPtr, cand.Channel, on)
	if err != nil {
		return nil, err
	}

	res := &Resolution{
		Channel:  cand.Channel,
		Charge:   window.Charge,
		WindowID: window.ID,
	}
	if override != nil {
		res.Pay = override.Pay
		res.Source = SourceOverride
		res.OverrideID = override.ID
	} else {
		res.Pay = window.PayFor(cand.Channel)
		res.Source = SourceWindow
	}
	return res, nil
}

// lookupWindow tries the exact band scope first, then the unbanded one.
func (r *Resolver) lookupWindow(ctx context.Context, clientID, role string, band *string, on engine.Date) (*ClientRateWindow, error) {
	if band != nil {
		w, err := r.store.ActiveWindow(ctx, clientID, role, band, on)
		if err != nil || w != nil {
			return w, err
		}
	}
	return r.store.ActiveWindow(ctx, clientID, role, nil, on)
}

func (r *Resolver) lookupOverride(ctx context.Context, candidateID, clientID, role string, band *string, ch engine.PayChannel, on engine.Date) (*CandidateRateOverride, error) {
	if band != nil {
		o, err := r.store.ActiveOverride(ctx, candidateID, clientID, role, band, ch, on)
		if err != nil || o != nil {
			return o, err
		}
	}
	return r.store.ActiveOverride(ctx, candidateID, clientID, role, nil, ch, on)
}

func bandScope(band string) *string {
	if band == "" {
		return nil
	}
	return &band
}

// =============================================================================
// ERROR TYPES
// =============================================================================

// MissingRateError reports that no active window covers the scope at
// the resolution date.
type MissingRateError struct {
	ClientID string
	Role     string
	Band     string
	On       engine.Date
}

func (e *MissingRateError) Error() string {
	scope := e.Role
	if e.Band != "" {
		scope += "/" + e.Band
	}
	return fmt.Sprintf("no active rate window for client %s, %s on %s", e.ClientID, scope, e.On)
}

func (e *MissingRateError) Unwrap() error { return engine.ErrMissingRate }
