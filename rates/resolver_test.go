package rates_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/rates"
)

func hoursDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// =============================================================================
// RESOLUTION
// =============================================================================

func TestResolver_WindowOnly_PaysChannelRates(t *testing.T) {
	// GIVEN: An active window and an employed candidate, no override
	// WHEN: Resolving
	// THEN: Pay comes from the window's employed set, charge from the window

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	w, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	res, err := rates.NewResolver(store).Resolve(ctx, "cand-1", "client-1", "nurse", "", engine.MustDate("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, rates.SourceWindow, res.Source)
	assert.Equal(t, w.ID, res.WindowID)
	assert.Equal(t, engine.ChannelEmployed, res.Channel)
	assert.True(t, res.Pay.Day.Value.Equal(hoursDecimal("20")))
	assert.True(t, res.Charge.Day.Value.Equal(hoursDecimal("30")))
}

func TestResolver_CompanyChannel_PicksCompanyPaySet(t *testing.T) {
	// GIVEN: A company-channel candidate
	// WHEN: Resolving against the same window
	// THEN: Pay comes from the company set

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	require.NoError(t, store.UpsertCandidate(context.Background(), engine.Candidate{
		ID:                     "cand-2",
		Name:                   "Ltd Candidate",
		Channel:                engine.ChannelCompany,
		CompanyDetailsComplete: true,
	}))
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	res, err := rates.NewResolver(store).Resolve(ctx, "cand-2", "client-1", "nurse", "", engine.MustDate("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, engine.ChannelCompany, res.Channel)
	assert.True(t, res.Pay.Day.Value.Equal(hoursDecimal("22")))
}

func TestResolver_Override_ReplacesPayNotCharge(t *testing.T) {
	// GIVEN: An override for the candidate's channel
	// WHEN: Resolving
	// THEN: Pay comes from the override; charge still comes from the window

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	o, err := tl.InsertOverride(ctx, overrideRequest("2025-02-01", nil))
	require.NoError(t, err)

	res, err := rates.NewResolver(store).Resolve(ctx, "cand-1", "client-1", "nurse", "", engine.MustDate("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, rates.SourceOverride, res.Source)
	assert.Equal(t, o.ID, res.OverrideID)
	assert.True(t, res.Pay.Day.Value.Equal(hoursDecimal("25")))
	assert.True(t, res.Charge.Day.Value.Equal(hoursDecimal("30")))
}

func TestResolver_BandFallback_UsesUnbandedWindow(t *testing.T) {
	// GIVEN: Only an unbanded window for the role
	// WHEN: Resolving with a band
	// THEN: The unbanded window applies

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	res, err := rates.NewResolver(store).Resolve(ctx, "cand-1", "client-1", "nurse", "band-5", engine.MustDate("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, rates.SourceWindow, res.Source)
}

func TestResolver_ExactBandPreferred(t *testing.T) {
	// GIVEN: Both a banded and an unbanded window for the role
	// WHEN: Resolving with the band
	// THEN: The banded window wins

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	band := "band-5"
	banded := windowRequest("2025-01-01", nil)
	banded.Band = &band
	banded.Charge = simpleCard("40")
	bw, err := tl.InsertWindow(ctx, banded)
	require.NoError(t, err)

	res, err := rates.NewResolver(store).Resolve(ctx, "cand-1", "client-1", "nurse", "band-5", engine.MustDate("2025-03-01"))
	require.NoError(t, err)

	assert.Equal(t, bw.ID, res.WindowID)
	assert.True(t, res.Charge.Day.Value.Equal(hoursDecimal("40")))
}

func TestResolver_NoWindow_MissingRateError(t *testing.T) {
	// GIVEN: No window for the scope
	// WHEN: Resolving
	// THEN: A MissingRateError carrying the scope, never a zero rate

	store := newTestStore(t)
	employedCandidate(t, store, "cand-1")

	_, err := rates.NewResolver(store).Resolve(context.Background(),
		"cand-1", "client-1", "nurse", "band-5", engine.MustDate("2025-03-01"))

	var missing *rates.MissingRateError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "client-1", missing.ClientID)
	assert.Equal(t, "nurse", missing.Role)
	assert.ErrorIs(t, err, engine.ErrMissingRate)
}

func TestResolver_WindowExpired_MissingRateError(t *testing.T) {
	// GIVEN: A window that ended before the resolution date
	// WHEN: Resolving after its end
	// THEN: Missing rate

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", datePtr("2025-03-31")))
	require.NoError(t, err)

	_, err = rates.NewResolver(store).Resolve(ctx, "cand-1", "client-1", "nurse", "", engine.MustDate("2025-04-01"))
	assert.ErrorIs(t, err, engine.ErrMissingRate)
}

func TestResolver_UnknownCandidate_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := rates.NewResolver(store).Resolve(context.Background(),
		"nobody", "client-1", "nurse", "", engine.MustDate("2025-03-01"))

	assert.ErrorIs(t, err, engine.ErrCandidateNotFound)
}
