package outbox_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/snapshot"
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

// stubRecomputer counts calls and fails the timesheet ids it is told to.
type stubRecomputer struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
}

func newStubRecomputer() *stubRecomputer {
	return &stubRecomputer{calls: map[string]int{}, fail: map[string]bool{}}
}

func (s *stubRecomputer) Recompute(ctx context.Context, timesheetID string) (*snapshot.FinancialSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[timesheetID]++
	if s.fail[timesheetID] {
		return nil, errors.New("resolver unavailable")
	}
	return &snapshot.FinancialSnapshot{TimesheetID: timesheetID}, nil
}

func (s *stubRecomputer) callCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[id]
}

func newTestProcessor(store *sqlite.Store, rec outbox.Recomputer) *outbox.Processor {
	return outbox.NewProcessor(store, rec, zerolog.Nop())
}

// =============================================================================
// ENQUEUE AND DEDUPLICATION
// =============================================================================

func TestEnqueue_SameTimesheetAndReason_Coalesces(t *testing.T) {
	// GIVEN: Three enqueues for the same (timesheet, reason)
	// WHEN: Draining
	// THEN: Exactly one recompute runs

	store := newTestStore(t)
	rec := newStubRecomputer()
	proc := newTestProcessor(store, rec)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonRateChanged, now))
	}

	res, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Picked)
	assert.Equal(t, 1, rec.callCount("ts-1"))
}

func TestEnqueue_DifferentReasons_SeparateItems(t *testing.T) {
	// GIVEN: Two reasons for the same timesheet
	// WHEN: Draining
	// THEN: Both items are picked (recompute is idempotent, so running
	//       twice is harmless)

	store := newTestStore(t)
	rec := newStubRecomputer()
	proc := newTestProcessor(store, rec)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonRateChanged, now))
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonPolicyChanged, now))

	res, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Picked)
	assert.Equal(t, 2, res.Succeeded)
}

// =============================================================================
// DRAIN, RETRY AND PARKING
// =============================================================================

func TestDrainOnce_Success_RemovesItem(t *testing.T) {
	// GIVEN: One pending item
	// WHEN: Draining twice
	// THEN: The second pass picks nothing

	store := newTestStore(t)
	rec := newStubRecomputer()
	proc := newTestProcessor(store, rec)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, time.Now().UTC()))

	first, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	second, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Picked)
}

func TestDrainOnce_Failure_ReschedulesWithBackoff(t *testing.T) {
	// GIVEN: A recompute that fails
	// WHEN: Draining
	// THEN: The item is hidden now but visible again after the backoff

	store := newTestStore(t)
	rec := newStubRecomputer()
	rec.fail["ts-1"] = true
	proc := newTestProcessor(store, rec)
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, time.Now().UTC()))

	res, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)

	// Invisible immediately after the failure.
	now := time.Now().UTC()
	items, err := store.Lease(ctx, 10, now, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, items)

	// Visible once the backoff has elapsed.
	later := now.Add(proc.BackoffBase + time.Second)
	items, err = store.Lease(ctx, 10, later, later.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)
	assert.NotEmpty(t, items[0].LastError)
}

func TestDrainOnce_RetryCeiling_ParksItem(t *testing.T) {
	// GIVEN: A permanently failing recompute and a ceiling of 1 attempt
	// WHEN: Draining
	// THEN: The item is parked, never leased again, and kept for inspection

	store := newTestStore(t)
	rec := newStubRecomputer()
	rec.fail["ts-1"] = true
	proc := newTestProcessor(store, rec)
	proc.MaxAttempts = 1
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, time.Now().UTC()))

	_, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)

	far := time.Now().UTC().Add(24 * time.Hour)
	items, err := store.Lease(ctx, 10, far, far.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, items, "parked items must never be leased")

	parked, err := store.ParkedItems(ctx)
	require.NoError(t, err)
	require.Len(t, parked, 1)
	assert.Equal(t, "ts-1", parked[0].TimesheetID)
	assert.NotEmpty(t, parked[0].LastError)
}

func TestEnqueue_RevivesParkedItem(t *testing.T) {
	// GIVEN: A parked item
	// WHEN: Enqueueing the same (timesheet, reason) again
	// THEN: The item is revived with a fresh attempt budget

	store := newTestStore(t)
	rec := newStubRecomputer()
	rec.fail["ts-1"] = true
	proc := newTestProcessor(store, rec)
	proc.MaxAttempts = 1
	ctx := context.Background()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, time.Now().UTC()))
	_, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)

	// The underlying fault is fixed; re-enqueue.
	rec.fail["ts-1"] = false
	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, time.Now().UTC()))

	res, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	parked, err := store.ParkedItems(ctx)
	require.NoError(t, err)
	assert.Empty(t, parked)
}

func TestLease_AlreadyLeasedItem_NotPickedAgain(t *testing.T) {
	// GIVEN: An item leased by one drain
	// WHEN: Another lease runs inside the first lease window
	// THEN: It picks nothing

	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Enqueue(ctx, "ts-1", outbox.ReasonManual, now))

	first, err := store.Lease(ctx, 10, now, now.Add(2*time.Minute))
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := store.Lease(ctx, 10, now.Add(time.Second), now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, second)

	// After lease expiry the item is claimable again.
	expired := now.Add(3 * time.Minute)
	third, err := store.Lease(ctx, 10, expired, expired.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, third, 1)
}

func TestDrainOnce_WorkerPool_ProcessesWholeBatch(t *testing.T) {
	// GIVEN: More items than workers
	// WHEN: Draining once
	// THEN: Every item is processed exactly once

	store := newTestStore(t)
	rec := newStubRecomputer()
	proc := newTestProcessor(store, rec)
	proc.Workers = 2
	ctx := context.Background()
	now := time.Now().UTC()

	ids := []string{"ts-1", "ts-2", "ts-3", "ts-4", "ts-5"}
	for _, id := range ids {
		require.NoError(t, store.Enqueue(ctx, id, outbox.ReasonManual, now))
	}

	res, err := proc.DrainOnce(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, len(ids), res.Picked)
	assert.Equal(t, len(ids), res.Succeeded)
	for _, id := range ids {
		assert.Equal(t, 1, rec.callCount(id), "timesheet %s", id)
	}
}
