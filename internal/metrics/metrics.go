package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "wgd_bridge"

var (
	// APICalls counts dashboard API calls by endpoint and outcome.
	APICalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_calls_total",
		Help:      "Dashboard API calls by endpoint and status.",
	}, []string{"endpoint", "status"})

	// APIDuration records dashboard API latency, retries included.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_duration_seconds",
		Help:      "Dashboard API call latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 20.0},
	}, []string{"endpoint"})

	// APIRetries counts transient failures that triggered another attempt.
	APIRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_retries_total",
		Help:      "Dashboard API attempts retried after a transient failure.",
	}, []string{"endpoint"})

	// CacheLookups counts list cache hits and misses.
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookups_total",
		Help:      "List cache lookups by kind and result.",
	}, []string{"kind", "result"})

	// PeerMutations counts config and peer create/delete operations.
	PeerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Configuration and peer mutations by operation and result.",
	}, []string{"op", "result"})

	// DownloadAttempts counts peer config download variants tried.
	DownloadAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "download_attempts_total",
		Help:      "Peer config download attempts by variant and result.",
	}, []string{"variant", "result"})

	// WebhookEvents counts webhook deliveries by event and result.
	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "webhook_events_total",
		Help:      "Webhook deliveries by event and result.",
	}, []string{"event", "result"})

	// JobsEnqueued counts updates placed into the worker channel.
	JobsEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_enqueued_total",
		Help:      "Updates placed into worker channel.",
	}, []string{"event"})

	// JobsDropped counts updates discarded before delivery.
	JobsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_dropped_total",
		Help:      "Updates discarded before delivery.",
	}, []string{"reason"})

	// JobsProcessed counts worker completions.
	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_processed_total",
		Help:      "Worker job completions.",
	}, []string{"event", "status"})

	// WorkerQueueDepth tracks current job channel length.
	WorkerQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_queue_depth",
		Help:      "Current job channel buffer depth.",
	})

	// SnapshotPeers tracks peers per configuration and activity state.
	SnapshotPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_peers",
		Help:      "Peers in the last snapshot per configuration and state.",
	}, []string{"config", "state"})

	// SnapshotBytes tracks transfer counters per configuration.
	SnapshotBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_bytes",
		Help:      "Transfer bytes in the last snapshot per configuration and direction.",
	}, []string{"config", "direction"})

	// SnapshotDuration records how long a full snapshot build takes.
	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_duration_seconds",
		Help:      "Full snapshot build duration in seconds.",
		Buckets:   []float64{0.1, 0.5, 1.0, 5.0, 15.0, 60.0},
	})

	// LedgerActivePeers tracks non-revoked peers in the ownership ledger.
	LedgerActivePeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ledger_active_peers",
		Help:      "Non-revoked peers in the ownership ledger.",
	})

	// DBSizeBytes tracks bbolt on-disk file size.
	DBSizeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_size_bytes",
		Help:      "bbolt on-disk file size in bytes.",
	})
)
