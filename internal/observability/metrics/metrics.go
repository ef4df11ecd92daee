// Package metrics registers the Prometheus instruments shared by the three
// processes. Counters are labeled sparingly; per-user labels would explode
// cardinality.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login intake requests by outcome.",
	}, []string{"outcome"})

	BatchesFlushed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_batches_flushed_total",
		Help: "Login batches published to the queue.",
	})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_batch_size",
		Help:    "Number of login intents per flushed batch.",
		Buckets: []float64{1, 5, 10, 25, 50, 100},
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_events_published_total",
		Help: "Authentication events published on the event channel.",
	}, []string{"type"})

	DeadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_dead_letters_total",
		Help: "Messages routed to the dead-letter queue by the consumer.",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "auth_ws_connections",
		Help: "Currently registered websocket connections.",
	})

	VerifyTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_password_verify_timeouts_total",
		Help: "Password verifications abandoned at the wall-clock ceiling.",
	})
)
