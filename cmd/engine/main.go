/*
main.go - Engine daemon entry point

PURPOSE:
  Runs the timesheet financial engine: opens the SQLite store, wires
  the classifier, rate resolver, snapshot writer and outbox processor
  together, serves the administrative API, and drains the recompute
  outbox on a timer until stopped.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load TOML configuration (flags override the db path)
  3. Open SQLite store and apply migrations
  4. Wire the recompute pipeline and billing components
  5. Start the admin API listener (unless http.addr is empty)
  6. Drain the outbox on a ticker with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to the TOML config file (optional; defaults apply)
  -db      SQLite database path override
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM the drain loop finishes its current pass, the
  store is closed and the process exits. Items leased by an aborted
  pass become visible again when their lease expires; recompute is
  idempotent so nothing is lost.

EXAMPLES:
  # Run with defaults
  ./engine

  # Run with a config file
  ./engine -config=./engine.toml

  # Run against an in-memory database
  ./engine -db=":memory:"

SEE ALSO:
  - config/config.go: configuration shape and defaults
  - api/server.go: admin API routes
  - outbox/processor.go: the drain loop internals
  - store/sqlite/sqlite.go: persistence
*/
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/timesheet-engine/api"
	"github.com/warp/timesheet-engine/billing"
	"github.com/warp/timesheet-engine/config"
	"github.com/warp/timesheet-engine/engine"
	"github.com/warp/timesheet-engine/outbox"
	"github.com/warp/timesheet-engine/rates"
	"github.com/warp/timesheet-engine/snapshot"
	"github.com/warp/timesheet-engine/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to TOML config file")
	dbPath := flag.String("db", "", "SQLite database path override")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.ReadFromFile(*configPath)
		if err != nil {
			l := zerolog.New(os.Stderr)
			l.Fatal().Err(err).Msg("loading config")
		}
		cfg = loaded
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	log := newLogger(cfg.Log)

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database.Path).Msg("opening store")
	}
	defer store.Close()

	classifier := engine.NewClassifier(store)
	resolver := rates.NewResolver(store)
	writer := snapshot.NewWriter(store, resolver, classifier, log)
	gate := billing.NewGate(store, log)
	invoices := billing.NewManager(store, log)

	processor := outbox.NewProcessor(store, writer, log)
	processor.LeaseWindow = cfg.LeaseWindow()
	processor.BackoffBase = cfg.BackoffBase()
	processor.MaxAttempts = cfg.Processor.MaxAttempts
	processor.Workers = cfg.Processor.Workers

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.HTTP.Addr != "" {
		handler := api.NewHandler(store, writer, gate, invoices, log)
		srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewRouter(handler)}
		go func() {
			log.Info().Str("addr", cfg.HTTP.Addr).Msg("admin API listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("admin API server failed")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	log.Info().
		Str("db", cfg.Database.Path).
		Dur("drain_interval", cfg.DrainInterval()).
		Int("batch_limit", cfg.Processor.BatchLimit).
		Msg("engine started")

	runDrainLoop(ctx, log, processor, cfg)

	log.Info().Msg("engine stopped")
}

func newLogger(cfg config.LogConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var out = zerolog.Logger{}
	if cfg.Pretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		out = zerolog.New(os.Stderr)
	}
	return out.Level(level).With().Timestamp().Logger()
}
