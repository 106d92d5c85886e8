package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seats_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	HoldResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_hold_results_total",
			Help: "Hold requests by result",
		},
		[]string{"result"},
	)

	OrderResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_order_results_total",
			Help: "Order finalization attempts by result",
		},
		[]string{"result"},
	)

	OutboxLag = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "seats_outbox_lag_seconds",
			Help: "Age of the oldest outbox record published in the last pass",
		},
	)

	RabbitPublishRetries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	HoldsCompacted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "seats_holds_compacted_total",
			Help: "Expired hold rows cleared by the compactor",
		},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestsTotal, DBTxDuration, HoldResults, OrderResults,
			OutboxLag, RabbitPublishRetries, RateLimitExceeded, HoldsCompacted)
	})
}
