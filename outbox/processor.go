package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/timesheet-engine/snapshot"
)

// Recomputer runs the full rate-resolution/classification/snapshot
// pipeline for one timesheet.
type Recomputer interface {
	Recompute(ctx context.Context, timesheetID string) (*snapshot.FinancialSnapshot, error)
}

// =============================================================================
// PROCESSOR - Leased-queue drain with bounded retries
// =============================================================================

const (
	DefaultLeaseWindow = 2 * time.Minute
	DefaultBackoffBase = 30 * time.Second
	DefaultMaxAttempts = 8
	DefaultWorkers     = 4

	maxBackoff = time.Hour
)

// Processor drains the outbox. Items within one batch may be processed
// concurrently up to Workers; the per-item lease guarantees no two
// drains touch the same timesheet at once.
type Processor struct {
	store      Store
	recomputer Recomputer
	log        zerolog.Logger

	LeaseWindow time.Duration
	BackoffBase time.Duration
	MaxAttempts int
	Workers     int
}

func NewProcessor(store Store, recomputer Recomputer, log zerolog.Logger) *Processor {
	return &Processor{
		store:       store,
		recomputer:  recomputer,
		log:         log,
		LeaseWindow: DefaultLeaseWindow,
		BackoffBase: DefaultBackoffBase,
		MaxAttempts: DefaultMaxAttempts,
		Workers:     DefaultWorkers,
	}
}

// Result summarizes one drain pass.
type Result struct {
	Picked    int
	Succeeded int
	Failed    int
}

// DrainOnce leases up to limit items and processes them. Callers
// invoke it repeatedly (typically on a timer) until a pass picks
// nothing or a batch ceiling is reached.
func (p *Processor) DrainOnce(ctx context.Context, limit int) (Result, error) {
	now := time.Now().UTC()
	items, err := p.store.Lease(ctx, limit, now, now.Add(p.LeaseWindow))
	if err != nil {
		return Result{}, err
	}

	res := Result{Picked: len(items)}
	if len(items) == 0 {
		return res, nil
	}

	workers := p.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		feed = make(chan Item)
	)
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for item := range feed {
				ok := p.process(ctx, item)
				mu.Lock()
				if ok {
					res.Succeeded++
				} else {
					res.Failed++
				}
				mu.Unlock()
			}
		}()
	}
	for _, item := range items {
		feed <- item
	}
	close(feed)
	wg.Wait()

	p.log.Info().
		Int("picked", res.Picked).
		Int("succeeded", res.Succeeded).
		Int("failed", res.Failed).
		Msg("outbox drained")
	return res, nil
}

// process runs one leased item end to end and acknowledges the
// outcome. It reports true on success.
func (p *Processor) process(ctx context.Context, item Item) bool {
	_, err := p.recomputer.Recompute(ctx, item.TimesheetID)
	if err == nil {
		if ackErr := p.store.Ack(ctx, item.ID, item.Epoch); ackErr != nil {
			// The lease will expire and the item will be recomputed
			// again; recompute is idempotent so this is safe.
			p.log.Warn().Err(ackErr).Str("item_id", item.ID).Msg("ack failed")
			return false
		}
		return true
	}

	attempts := item.Attempts + 1
	if attempts >= p.MaxAttempts {
		p.log.Error().Err(err).
			Str("timesheet_id", item.TimesheetID).
			Str("reason", string(item.Reason)).
			Int("attempts", attempts).
			Msg("recompute parked after retry ceiling")
		if parkErr := p.store.Park(ctx, item.ID, err.Error()); parkErr != nil {
			p.log.Warn().Err(parkErr).Str("item_id", item.ID).Msg("park failed")
		}
		return false
	}

	next := time.Now().UTC().Add(p.backoff(attempts))
	p.log.Warn().Err(err).
		Str("timesheet_id", item.TimesheetID).
		Int("attempts", attempts).
		Time("next_visible", next).
		Msg("recompute failed, rescheduled")
	if nackErr := p.store.Nack(ctx, item.ID, next, err.Error()); nackErr != nil {
		p.log.Warn().Err(nackErr).Str("item_id", item.ID).Msg("nack failed")
	}
	return false
}

// backoff grows exponentially with the attempt count, capped at an
// hour.
func (p *Processor) backoff(attempts int) time.Duration {
	d := p.BackoffBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
