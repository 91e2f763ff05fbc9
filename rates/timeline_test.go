package rates_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/rates"
	"github.com/warp/timesheet-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func simpleCard(rate string) engine.RateCard {
	m := engine.MoneyFromString(rate)
	return engine.RateCard{Day: m, Night: m, Saturday: m, Sunday: m, BankHoliday: m}
}

func windowRequest(from string, to *engine.Date) rates.WindowRequest {
	return rates.WindowRequest{
		ClientID:    "client-1",
		Role:        "nurse",
		From:        engine.MustDate(from),
		To:          to,
		Charge:      simpleCard("30"),
		EmployedPay: simpleCard("20"),
		CompanyPay:  simpleCard("22"),
	}
}

func datePtr(s string) *engine.Date {
	d := engine.MustDate(s)
	return &d
}

// =============================================================================
// WINDOW INSERTION PROTOCOL
// =============================================================================

func TestTimeline_InsertWindow_OpenEnded(t *testing.T) {
	// GIVEN: An empty timeline
	// WHEN: Inserting an open-ended window
	// THEN: It resolves on any later date

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	w, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	assert.Nil(t, w.To)

	active, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2027-06-15"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, w.ID, active.ID)
}

func TestTimeline_InsertWindow_TruncatesOpenEndedIncumbent(t *testing.T) {
	// GIVEN: An open-ended window from 2025-01-01
	// WHEN: Inserting a new window from 2025-04-01
	// THEN: The incumbent is truncated to 2025-03-31 and both resolve
	//       on their own ranges

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	first, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	second, err := tl.InsertWindow(ctx, windowRequest("2025-04-01", nil))
	require.NoError(t, err)

	onMarch, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-03-31"))
	require.NoError(t, err)
	require.NotNil(t, onMarch)
	assert.Equal(t, first.ID, onMarch.ID)
	require.NotNil(t, onMarch.To)
	assert.Equal(t, "2025-03-31", onMarch.To.String())

	onApril, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-04-01"))
	require.NoError(t, err)
	require.NotNil(t, onApril)
	assert.Equal(t, second.ID, onApril.ID)
}

func TestTimeline_InsertWindow_DuplicateStart_Rejected(t *testing.T) {
	// GIVEN: A window starting 2025-01-01
	// WHEN: Inserting another window with the same start
	// THEN: The insert is rejected and nothing is truncated

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	first, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	_, err = tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))

	var conflict *rates.TimelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rates.ConflictDuplicateStart, conflict.Kind)
	assert.Equal(t, first.ID, conflict.BlockingID)
	assert.ErrorIs(t, err, engine.ErrWindowConflict)

	// Incumbent untouched.
	active, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-06-01"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Nil(t, active.To)
}

func TestTimeline_InsertWindow_BackCut_Rejected(t *testing.T) {
	// GIVEN: A window 2025-01-01..2025-06-30 whose end was fixed by a
	//        later insert at 2025-07-01
	// WHEN: Inserting a window starting 2025-02-01 inside the closed one
	// THEN: The insert is rejected as a back-cut

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	_, err = tl.InsertWindow(ctx, windowRequest("2025-07-01", nil))
	require.NoError(t, err)

	_, err = tl.InsertWindow(ctx, windowRequest("2025-02-01", nil))

	var conflict *rates.TimelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rates.ConflictBackCut, conflict.Kind)
}

func TestTimeline_InsertWindow_ClampedByNextWindow(t *testing.T) {
	// GIVEN: An existing window starting 2025-07-01
	// WHEN: Inserting an open-ended window starting 2025-01-01
	// THEN: The new window's end is clamped to 2025-06-30

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-07-01", nil))
	require.NoError(t, err)

	w, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	require.NotNil(t, w.To)
	assert.Equal(t, "2025-06-30", w.To.String())
}

func TestTimeline_InsertWindow_CallerEndKeptWhenEarlier(t *testing.T) {
	// GIVEN: A later window starting 2025-07-01
	// WHEN: Inserting a window 2025-01-01..2025-03-31
	// THEN: The caller's earlier end wins over the clamp

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-07-01", nil))
	require.NoError(t, err)

	w, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", datePtr("2025-03-31")))
	require.NoError(t, err)

	require.NotNil(t, w.To)
	assert.Equal(t, "2025-03-31", w.To.String())
}

func TestTimeline_InsertWindow_NoChargeRates_Rejected(t *testing.T) {
	store := newTestStore(t)
	tl := rates.NewTimeline(store)

	req := windowRequest("2025-01-01", nil)
	req.Charge = engine.RateCard{}

	_, err := tl.InsertWindow(context.Background(), req)

	var fe *engine.FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "charge", fe.Field)
}

func TestTimeline_DisabledWindow_ExcludedFromResolution(t *testing.T) {
	// GIVEN: A window covering today
	// WHEN: Disabling it
	// THEN: It no longer resolves, but re-enabling restores it

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	w, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	require.NoError(t, tl.DisableWindow(ctx, w.ID))
	active, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-06-01"))
	require.NoError(t, err)
	assert.Nil(t, active)

	require.NoError(t, tl.EnableWindow(ctx, w.ID))
	active, err = store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-06-01"))
	require.NoError(t, err)
	assert.NotNil(t, active)
}

func TestTimeline_EnableWindow_ReplacedRange_Rejected(t *testing.T) {
	// GIVEN: Window A disabled, then window B inserted over its range
	// WHEN: Re-enabling A
	// THEN: Rejected - two enabled windows may never cover the same date

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	a, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	require.NoError(t, tl.DisableWindow(ctx, a.ID))

	b, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	err = tl.EnableWindow(ctx, a.ID)

	var conflict *rates.TimelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rates.ConflictOverlap, conflict.Kind)
	assert.Equal(t, b.ID, conflict.BlockingID)
	assert.ErrorIs(t, err, engine.ErrWindowConflict)

	// A stays out; B keeps resolving the scope.
	active, err := store.ActiveWindow(ctx, "client-1", "nurse", nil, engine.MustDate("2025-06-01"))
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, b.ID, active.ID)
}

func TestTimeline_EnableWindow_LaterWindowInsideRange_Rejected(t *testing.T) {
	// GIVEN: An open-ended window disabled, then a window starting later
	//        inside its range
	// WHEN: Re-enabling the open-ended one
	// THEN: Rejected, naming the later window as the blocker

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	ctx := context.Background()

	a, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	require.NoError(t, tl.DisableWindow(ctx, a.ID))

	b, err := tl.InsertWindow(ctx, windowRequest("2025-06-01", nil))
	require.NoError(t, err)

	err = tl.EnableWindow(ctx, a.ID)

	var conflict *rates.TimelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rates.ConflictOverlap, conflict.Kind)
	assert.Equal(t, b.ID, conflict.BlockingID)
}

func TestTimeline_EnableWindow_UnknownID_NotFound(t *testing.T) {
	store := newTestStore(t)
	tl := rates.NewTimeline(store)

	err := tl.EnableWindow(context.Background(), "ghost")

	assert.ErrorIs(t, err, engine.ErrWindowNotFound)
}

// =============================================================================
// OVERRIDE INSERTION
// =============================================================================

func employedCandidate(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	require.NoError(t, store.UpsertCandidate(context.Background(), engine.Candidate{
		ID:                  id,
		Name:                "Test Candidate",
		Channel:             engine.ChannelEmployed,
		BankDetailsComplete: true,
	}))
}

func overrideRequest(from string, to *engine.Date) rates.OverrideRequest {
	return rates.OverrideRequest{
		CandidateID: "cand-1",
		ClientID:    "client-1",
		Role:        "nurse",
		Channel:     engine.ChannelEmployed,
		From:        engine.MustDate(from),
		To:          to,
		Pay:         simpleCard("25"),
	}
}

func TestTimeline_InsertOverride_RequiresActiveWindow(t *testing.T) {
	// GIVEN: No window covering the override's start
	// WHEN: Inserting an override
	// THEN: The insert is rejected with a no-window conflict

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")

	_, err := tl.InsertOverride(context.Background(), overrideRequest("2025-01-01", nil))

	var conflict *rates.TimelineConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, rates.ConflictNoWindow, conflict.Kind)
}

func TestTimeline_InsertOverride_ClampedIntoWindow(t *testing.T) {
	// GIVEN: A window 2025-01-01..2025-06-30
	// WHEN: Inserting an open-ended override from 2025-02-01
	// THEN: The override's end is clamped to the window's end

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", datePtr("2025-06-30")))
	require.NoError(t, err)

	o, err := tl.InsertOverride(ctx, overrideRequest("2025-02-01", nil))
	require.NoError(t, err)

	require.NotNil(t, o.To)
	assert.Equal(t, "2025-06-30", o.To.String())
}

func TestTimeline_InsertOverride_TruncatesOpenEndedIncumbent(t *testing.T) {
	// GIVEN: An open-ended override from 2025-02-01
	// WHEN: Inserting a new override from 2025-05-01
	// THEN: The incumbent is truncated to 2025-04-30

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)

	first, err := tl.InsertOverride(ctx, overrideRequest("2025-02-01", nil))
	require.NoError(t, err)
	_, err = tl.InsertOverride(ctx, overrideRequest("2025-05-01", nil))
	require.NoError(t, err)

	onApril, err := store.ActiveOverride(ctx, "cand-1", "client-1", "nurse", nil,
		engine.ChannelEmployed, engine.MustDate("2025-04-30"))
	require.NoError(t, err)
	require.NotNil(t, onApril)
	assert.Equal(t, first.ID, onApril.ID)
	require.NotNil(t, onApril.To)
	assert.Equal(t, "2025-04-30", onApril.To.String())
}

func TestTimeline_InsertOverride_ChannelScoped(t *testing.T) {
	// GIVEN: An employed-channel override
	// WHEN: Looking up the company channel for the same scope
	// THEN: The override does not apply

	store := newTestStore(t)
	tl := rates.NewTimeline(store)
	employedCandidate(t, store, "cand-1")
	ctx := context.Background()

	_, err := tl.InsertWindow(ctx, windowRequest("2025-01-01", nil))
	require.NoError(t, err)
	_, err = tl.InsertOverride(ctx, overrideRequest("2025-02-01", nil))
	require.NoError(t, err)

	o, err := store.ActiveOverride(ctx, "cand-1", "client-1", "nurse", nil,
		engine.ChannelCompany, engine.MustDate("2025-03-01"))
	require.NoError(t, err)
	assert.Nil(t, o)
}
