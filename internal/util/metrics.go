package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MutationsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutations_enqueued_total",
		Help: "Total number of mutations appended to the local queue",
	}, []string{"operation"})

	MutationsAcknowledgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mutations_acknowledged_total",
		Help: "Total number of mutations acknowledged by the server",
	})

	MutationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutations_rejected_total",
		Help: "Total number of mutations permanently rejected",
	}, []string{"reason"})

	MutationsRetriedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mutations_retried_total",
		Help: "Total number of mutation retry attempts scheduled",
	})

	MutationsExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mutations_exhausted_total",
		Help: "Total number of mutations that hit the retry ceiling",
	})

	QueuePendingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "queue_pending_mutations",
		Help: "Current number of pending mutations in the local queue",
	})

	SyncPassLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_pass_latency_seconds",
		Help:    "Latency of a full sync pass",
		Buckets: prometheus.DefBuckets,
	})

	SyncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sync_passes_total",
		Help: "Total number of sync passes by outcome",
	}, []string{"outcome"})

	OnlineTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "network_transitions_total",
		Help: "Total number of connectivity transitions",
	}, []string{"to"})

	ReconcileAppliedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_applied_total",
		Help: "Total number of mutations applied by the reconciler",
	}, []string{"operation"})

	ReconcileReplayedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "reconcile_replayed_total",
		Help: "Total number of already-applied idempotency keys replayed",
	})

	ReconcileRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_rejected_total",
		Help: "Total number of mutations rejected by the reconciler",
	}, []string{"reason"})

	ReconcileBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "reconcile_batch_latency_seconds",
		Help:    "Latency of reconcile batch application",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
