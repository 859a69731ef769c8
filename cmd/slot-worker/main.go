package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/careloop/scheduling-engine/internal/config"
	"github.com/careloop/scheduling-engine/internal/db"
	redisclient "github.com/careloop/scheduling-engine/internal/redis"
	"github.com/careloop/scheduling-engine/internal/scheduling"
)

// The slot worker rolls materialization forward: every interval it generates
// slots over the configured horizon for each provider with active
// availability. Generation skips existing tuples, so re-running is safe.
func main() {
	log := zerolog.New(os.Stderr).With().Timestamp().Str("service", "slot-worker").Logger()
	log.Info().Msg("slot-worker starting up")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	log.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.SlotHorizonDays).
		Msg("configured")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	log.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.Error().Err(err).Msg("error closing redis")
		}
	}()
	log.Info().Msg("connected to Redis")

	repo := scheduling.NewPgRepository(pgPool)
	locker := redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
	svc := scheduling.NewService(repo, locker, log)

	// Run once at startup
	runOnce(rootCtx, svc, repo, cfg, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info().Msg("shutdown signal received, stopping slot worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, repo, cfg, log)
		}
	}
}

func runOnce(ctx context.Context, svc *scheduling.Service, repo scheduling.Repository, cfg config.Config, log zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	start := time.Now()

	providerIDs, err := repo.ListProviderIDsWithAvailability(runCtx)
	if err != nil {
		log.Error().Err(err).Msg("list providers with availability")
		return
	}

	rng := scheduling.DateRange{
		From: time.Now().UTC(),
		To:   time.Now().UTC().AddDate(0, 0, cfg.SlotHorizonDays),
	}
	worker := scheduling.Actor{Role: scheduling.RoleSystemAdmin}

	var created, skipped int
	for _, id := range providerIDs {
		result, err := svc.GenerateSlotsForRange(runCtx, worker, id, rng, scheduling.GenerateConfig{}, false)
		if err != nil {
			log.Error().Err(err).Str("provider_id", id.String()).Msg("generate slots")
			continue
		}
		created += result.Created
		skipped += result.Skipped
	}

	log.Info().
		Int("providers", len(providerIDs)).
		Int("created", created).
		Int("skipped", skipped).
		Dur("took", time.Since(start)).
		Msg("materialization run complete")
}
