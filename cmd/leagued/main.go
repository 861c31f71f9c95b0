// Package main is the entry point for the league engine daemon. It runs
// migrations, wires the services and keeps a periodic ledger audit going;
// all league operations are driven by the calling layer through the
// service APIs.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"league-engine/internal/config"
	"league-engine/internal/domain"
	"league-engine/internal/pkg/db"
	"league-engine/internal/pkg/lock"
	"league-engine/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Optional .env for local development
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := db.Migrate(ctx, dbPool.Pool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	rules := service.Rules{
		RoomCapacity: cfg.League.RoomCapacity,
		WinThreshold: cfg.League.WinThreshold,
		RatingK:      cfg.League.RatingK,
	}
	seasonLock := lock.NewKeyedLock()

	// The daemon only drives the audit path; the calling layer constructs
	// the entry/session/standings services the same way against this pool.
	seasonService := service.NewSeasonService(dbPool.Pool)
	settlementService := service.NewSettlementService(dbPool.Pool, seasonLock, rules)

	// Periodic ledger audit on the active season
	sched, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	_, err = sched.NewJob(
		gocron.DurationJob(cfg.Audit.Interval),
		gocron.NewTask(func() {
			runAudit(ctx, seasonService, settlementService)
		}),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule ledger audit")
	}
	sched.Start()

	log.Info().Dur("interval", cfg.Audit.Interval).Msg("League engine running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	log.Info().Msg("League engine stopped gracefully")
}

// runAudit verifies the ledger-sum invariant for the active season and logs
// any participant whose rating the ledger no longer explains.
func runAudit(ctx context.Context, seasons *service.SeasonService, settlements *service.SettlementService) {
	season, err := seasons.FindActive(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug().Msg("No active season, skipping ledger audit")
			return
		}
		log.Error().Err(err).Msg("Ledger audit failed to find active season")
		return
	}

	violations, err := settlements.AuditSeason(ctx, season.ID)
	if err != nil {
		log.Error().Err(err).Int64("season_id", season.ID).Msg("Ledger audit failed")
		return
	}
	if len(violations) == 0 {
		log.Debug().Int64("season_id", season.ID).Msg("Ledger audit passed")
		return
	}
	for _, v := range violations {
		log.Warn().
			Int64("season_id", season.ID).
			Int64("user_id", v.UserID).
			Float64("rate_sum", v.RateSum).
			Float64("rating", v.Rating).
			Float64("seed_rating", v.SeedRating).
			Float64("drift", v.Drift).
			Msg("Ledger does not explain participant rating")
	}
}
