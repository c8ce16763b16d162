package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agendaclin/clinic-scheduling/internal/payments"
	"github.com/agendaclin/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service  *scheduling.Service
	Verifier *payments.WebhookVerifier
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Availability and slots
	r.Put("/professionals/{id}/availability", putAvailabilityHandler(cfg.Service))
	r.Get("/professionals/{id}/slots", listSlotsHandler(cfg.Service))

	// Bookings
	r.Post("/bookings", createBookingHandler(cfg.Service))
	r.Get("/bookings", listBookingsHandler(cfg.Service))
	r.Get("/bookings/{id}", getBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/cancel", cancelBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/reschedule", rescheduleBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/confirm", confirmBookingHandler(cfg.Service))
	r.Post("/bookings/{id}/complete", completeBookingHandler(cfg.Service))
	r.Patch("/bookings/{id}/notes", updateNotesHandler(cfg.Service))

	// Packages and payment webhook
	r.Post("/packages", createPackageHandler(cfg.Service))
	r.Get("/packages/{id}", getPackageHandler(cfg.Service))
	r.Post("/webhooks/payments", paymentWebhookHandler(cfg.Service, cfg.Verifier, cfg.Logger))

	return r
}
