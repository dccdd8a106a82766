// Package metrics exposes the service's prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEvents counts inbound provider notifications by outcome
	// (processed, duplicate, ignored, rejected, error).
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiendly",
		Subsystem: "webhook",
		Name:      "events_total",
		Help:      "Inbound webhook notifications by provider, kind and outcome.",
	}, []string{"provider", "kind", "outcome"})

	// SweepRuns counts scheduled sweep executions per job.
	SweepRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiendly",
		Subsystem: "sweep",
		Name:      "runs_total",
		Help:      "Sweep job executions.",
	}, []string{"job"})

	// SweepErrors counts per-item sweep failures per job.
	SweepErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiendly",
		Subsystem: "sweep",
		Name:      "errors_total",
		Help:      "Per-item sweep failures.",
	}, []string{"job"})

	// SweepDuration observes sweep job wall time.
	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tiendly",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Sweep job duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"job"})

	// OutboxDeliveries counts notification dispatch attempts by result.
	OutboxDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tiendly",
		Subsystem: "outbox",
		Name:      "deliveries_total",
		Help:      "Notification delivery attempts by result.",
	}, []string{"result"})
)
