package http

import (
	"crypto/rsa"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/rateLimit"
)

type RouterConfig struct {
	JWTKey             *rsa.PublicKey
	RateLimitPerMinute int
}

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(BodyLimitMiddleware)
	r.Use(RateLimitMiddleware(rl, cfg.RateLimitPerMinute))

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Get("/v1/locks", h.EffectiveLocks)
	r.Get("/v1/locks/{tableId}/{seatNo}", h.SeatState)
	r.Post("/v1/locks/hold", h.Hold)
	r.Post("/v1/locks/release", h.Release)
	r.Post("/v1/orders", h.CreateOrder)

	r.Group(func(r chi.Router) {
		r.Use(JWTMiddleware(cfg.JWTKey))

		r.Get("/v1/orders/{id}", h.GetOrder)
		r.Post("/v1/orders/{id}/pending-payment", h.MarkPendingPayment)
		r.Post("/v1/payments/callback", h.PaymentCallback)

		r.Get("/v1/admin/orders", h.ListOrders)
		r.Post("/v1/admin/check-in", h.CheckIn)
		r.Post("/v1/admin/box-office", h.BoxOffice)
		r.Put("/v1/admin/tables/{tableId}", h.SetTablePrice)
	})

	return r
}
