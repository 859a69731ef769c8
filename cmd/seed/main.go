package main

import (
	"context"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/careloop/scheduling-engine/internal/db"
)

var log = zerolog.New(os.Stderr).With().Timestamp().Str("service", "seed").Logger()

func main() {
	log.Info().Msg("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	providerIDs, err := seedProviders(context.Background(), pool, 100)
	if err != nil {
		log.Fatal().Err(err).Msg("seed providers")
	}
	if err := seedAvailability(context.Background(), pool, providerIDs); err != nil {
		log.Fatal().Err(err).Msg("seed availability")
	}
	if err := seedPatients(context.Background(), pool, 9000); err != nil {
		log.Fatal().Err(err).Msg("seed patients")
	}

	log.Info().Msg("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Info().Int("count", count).Msg("seeding providers")

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}
	orgKinds := []string{"hospital", "clinic"}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		org := orgKinds[gofakeit.Number(0, len(orgKinds)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, specialty, org_kind, created_at, updated_at)
			VALUES ($1, $2, $3, $4, now(), now())
		`, id, name, spec, org)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Info().Msg("providers seeded")
	return ids, nil
}

// seedAvailability gives each provider a weekday morning block and, for most,
// an afternoon block with a lunch break.
func seedAvailability(ctx context.Context, pool *pgxpool.Pool, providerIDs []uuid.UUID) error {
	log.Info().Int("providers", len(providerIDs)).Msg("seeding availability windows")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, providerID := range providerIDs {
		duration := []int{15, 20, 30}[gofakeit.Number(0, 2)]
		capacity := gofakeit.Number(1, 3)

		for day := 1; day <= 5; day++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO availability_windows
					(id, provider_id, day_of_week, start_minute, end_minute,
					 slot_duration_minutes, max_bookings_per_slot,
					 break_start_minute, break_end_minute, is_available,
					 created_at, updated_at)
				VALUES ($1, $2, $3, 540, 720, $4, $5, NULL, NULL, true, now(), now())
			`, uuid.New(), providerID, day, duration, capacity)
			if err != nil {
				return err
			}

			if gofakeit.Bool() {
				_, err := tx.Exec(ctx, `
					INSERT INTO availability_windows
						(id, provider_id, day_of_week, start_minute, end_minute,
						 slot_duration_minutes, max_bookings_per_slot,
						 break_start_minute, break_end_minute, is_available,
						 created_at, updated_at)
					VALUES ($1, $2, $3, 780, 1020, $4, $5, 870, 900, true, now(), now())
				`, uuid.New(), providerID, day, duration, capacity)
				if err != nil {
					return err
				}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Info().Msg("availability windows seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Info().Int("count", count).Msg("seeding patients")

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := gofakeit.Email()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, created_at, updated_at)
				VALUES ($1, $2, $3, now(), now())
			`, id, name, email)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Info().Int("done", end).Int("total", count).Msg("patients seeded batch")
	}

	log.Info().Msg("patients seeded")
	return nil
}
