package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_payments_created_total",
			Help: "Payments created, by outcome (pending, stock_unavailable, gateway_failed)",
		},
		[]string{"outcome"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_gateway_calls_total",
			Help: "Gateway client calls, by operation and result",
		},
		[]string{"op", "result"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evp_tickets_issued_total",
			Help: "Tickets issued",
		},
	)

	StockOverruns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evp_stock_overruns_total",
			Help: "Issuances that hit the advisory-check race and clamped stock at zero",
		},
	)

	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_webhook_events_total",
			Help: "Gateway webhook events, by type and result",
		},
		[]string{"type", "result"},
	)

	RefundsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "evp_refunds_total",
			Help: "Refunds, by outcome (partial, full, gateway_failed)",
		},
		[]string{"outcome"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "evp_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "evp_outbox_lag_seconds",
			Help: "Age of the oldest unpublished outbox record",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "evp_rate_limit_exceeded_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)
