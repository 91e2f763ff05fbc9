/*
drain.go - Timer-driven outbox drain loop

PURPOSE:
  Repeatedly drains the recompute outbox: one pass immediately on
  start, then one per tick. A pass keeps calling DrainOnce until it
  picks nothing or the batch ceiling is reached, so a backlog clears
  at full speed instead of one batch per interval.
*/
package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/timesheet-engine/config"
	"github.com/warp/timesheet-engine/outbox"
)

// maxPassBatches bounds one pass so a pathological backlog cannot
// starve shutdown.
const maxPassBatches = 20

func runDrainLoop(ctx context.Context, log zerolog.Logger, processor *outbox.Processor, cfg *config.Config) {
	ticker := time.NewTicker(cfg.DrainInterval())
	defer ticker.Stop()

	drainPass(ctx, log, processor, cfg.Processor.BatchLimit)

	for {
		select {
		case <-ticker.C:
			drainPass(ctx, log, processor, cfg.Processor.BatchLimit)
		case <-ctx.Done():
			return
		}
	}
}

func drainPass(ctx context.Context, log zerolog.Logger, processor *outbox.Processor, batchLimit int) {
	for i := 0; i < maxPassBatches; i++ {
		if ctx.Err() != nil {
			return
		}
		res, err := processor.DrainOnce(ctx, batchLimit)
		if err != nil {
			log.Error().Err(err).Msg("drain pass failed")
			return
		}
		if res.Picked == 0 {
			return
		}
	}
	log.Warn().Int("batches", maxPassBatches).Msg("drain pass hit batch ceiling, backlog remains")
}
