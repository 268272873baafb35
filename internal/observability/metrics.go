package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "requests_created_total", Help: "Requests created, by kind"},
		[]string{"kind"},
	)
	RequestsAssigned = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "requests_assigned_total", Help: "Requests claimed by a worker"},
	)
	WavesDispatched = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "matching_waves_total", Help: "Matching waves that ran"},
	)
	WorkersNotified = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "matching_workers_notified_total", Help: "Workers notified across all waves"},
	)
	TimeoutsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "timeouts_processed_total", Help: "Expired timeout records handled, by kind"},
		[]string{"kind"},
	)
	Settlements = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "settlements_total", Help: "Fare settlements, by outcome"},
		[]string{"outcome"},
	)
	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "idempotent_replays_total", Help: "Guarded calls answered from the idempotency cache"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "yoonu", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yoonu",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
