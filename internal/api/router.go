package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	redisclient "github.com/careloop/scheduling-engine/internal/redis"
	"github.com/careloop/scheduling-engine/internal/scheduling"
)

type RouterConfig struct {
	Service         *scheduling.Service
	Counter         redisclient.Counter
	PgPool          *pgxpool.Pool
	Redis           *redis.Client
	Log             zerolog.Logger
	Env             string
	Version         string
	RateLimitWindow time.Duration
	RateLimitMax    int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Group(func(r chi.Router) {
		r.Use(ActorMiddleware)
		r.Use(RateLimitMiddleware(cfg.Counter, cfg.RateLimitWindow, cfg.RateLimitMax, cfg.Log))

		r.Get("/providers/{id}/slots", listSlotsHandler(cfg.Service))
		r.Post("/providers/{id}/slots/generate", generateSlotsHandler(cfg.Service))

		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(cfg.Service))

		r.Post("/availability", upsertAvailabilityHandler(cfg.Service))
		r.Post("/availability/{id}/deactivate", deactivateAvailabilityHandler(cfg.Service))
	})

	return r
}
