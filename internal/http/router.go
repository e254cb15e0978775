package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ticketforge/event-payments/internal/observability"
	"github.com/ticketforge/event-payments/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))

	r.Group(func(r chi.Router) {
		r.Use(RequireIdempotencyKey)
		r.Post("/v1/payments", h.CreatePayment)
		r.Post("/v1/payments/{id}/refund", h.Refund)
	})

	r.Get("/v1/payments/{id}", h.GetPayment)
	r.Post("/v1/gateway/webhook", h.GatewayWebhook)
	r.Post("/v1/tickets/{token}/scan", h.ScanTicket)
	r.Post("/v1/tickets/{token}/cancel", h.CancelTicket)
	r.Post("/v1/tickets/{token}/refund", h.RefundTicketInvalidate)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
