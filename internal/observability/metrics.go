package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ObSync.
type Metrics struct {
	// --- Sync cycle ---
	CyclesRun      prometheus.Counter
	CyclesSkipped  prometheus.Counter
	CycleErrors    *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LastBatchNonce prometheus.Gauge
	LastStid       prometheus.Gauge
	LastBlock      prometheus.Gauge

	// --- Batch replay ---
	BatchesProcessed  prometheus.Counter
	BatchesCaughtUp   prometheus.Counter
	BatchDuration     prometheus.Histogram
	ActionsApplied    *prometheus.CounterVec
	ActionsRejected   *prometheus.CounterVec
	WithdrawalsQueued prometheus.Counter

	// --- Trie ---
	TrieCommitDuration prometheus.Histogram
	TrieResets         prometheus.Counter

	// --- Snapshots ---
	SnapshotsSigned      prometheus.Counter
	SnapshotsResubmitted prometheus.Counter
	SubmissionFailures   prometheus.Counter

	// --- Chain mirror ---
	IngressMessagesStored *prometheus.CounterVec
	MirrorUpdateFailures  *prometheus.CounterVec
}

var latencyBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}

// NewMetrics registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return &Metrics{
		CyclesRun: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_cycles_run_total",
			Help: "Sync cycles started",
		}),

		CyclesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_cycles_skipped_total",
			Help: "Cycles skipped because another worker holds the lease",
		}),

		CycleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "obsync_cycle_errors_total",
			Help: "Cycles aborted with an error",
		}, []string{"reason"}),

		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "obsync_cycle_duration_seconds",
			Help:    "Wall time of one sync cycle",
			Buckets: latencyBuckets,
		}),

		LastBatchNonce: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "obsync_last_batch_nonce",
			Help: "Last fully processed batch nonce",
		}),

		LastStid: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "obsync_last_stid",
			Help: "Last applied global sequence id",
		}),

		LastBlock: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "obsync_last_block",
			Help: "Last imported on-chain block",
		}),

		// Batch replay
		BatchesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_batches_processed_total",
			Help: "User-action batches applied",
		}),

		BatchesCaughtUp: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_batches_caught_up_total",
			Help: "Batches applied during catch-up sync",
		}),

		BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "obsync_batch_duration_seconds",
			Help:    "Time to apply one batch",
			Buckets: latencyBuckets,
		}),

		ActionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "obsync_actions_applied_total",
			Help: "User actions applied",
		}, []string{"type"}),

		ActionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "obsync_actions_rejected_total",
			Help: "User actions rejected",
		}, []string{"type", "reason"}),

		WithdrawalsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_withdrawals_queued_total",
			Help: "Withdrawals queued into snapshot summaries",
		}),

		// Trie
		TrieCommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "obsync_trie_commit_duration_seconds",
			Help:    "Time to commit the ledger trie",
			Buckets: latencyBuckets,
		}),

		TrieResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_trie_resets_total",
			Help: "Root resets to the sentinel after corruption",
		}),

		// Snapshots
		SnapshotsSigned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_snapshots_signed_total",
			Help: "Snapshot summaries signed",
		}),

		SnapshotsResubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_snapshots_resubmitted_total",
			Help: "Retained snapshots resubmitted to the aggregator",
		}),

		SubmissionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "obsync_submission_failures_total",
			Help: "Failed aggregator submissions (non-fatal)",
		}),

		// Chain mirror
		IngressMessagesStored: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "obsync_ingress_messages_stored_total",
			Help: "On-chain events mirrored locally",
		}, []string{"type"}),

		MirrorUpdateFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "obsync_mirror_update_failures_total",
			Help: "Chain feed messages that failed to mirror",
		}, []string{"subject"}),
	}
}
