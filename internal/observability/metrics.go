package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CoreVault.
type Metrics struct {
	// --- Engine ---
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec
	Sequence    prometheus.Gauge

	// --- Vault accounting ---
	DepositsTotal        prometheus.Counter
	RedemptionsQueued    prometheus.Counter
	RedemptionsSettled   prometheus.Counter
	EmergencyRedemptions prometheus.Counter
	QueueDepth           prometheus.Gauge
	TotalSupply          prometheus.Gauge
	CustodyBTCValue      prometheus.Gauge

	// --- Epoch lifecycle ---
	EpochCurrent         prometheus.Gauge
	EpochTransitions     *prometheus.CounterVec
	DistributionDuration prometheus.Histogram
	DistributionResidual prometheus.Gauge
	EligibleDepositors   prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	PublishDrops        prometheus.Counter
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter

	// --- Keeper command ingestion ---
	OpsCommandsReceived *prometheus.CounterVec
	OpsCommandErrors    *prometheus.CounterVec
	NATSPullLatency     *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter
	PersistLastSequence  prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// --- Projections ---
	ProjectionUpdateDur *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_applied_total",
			Help: "Operations successfully applied by the engine",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_rejected_total",
			Help: "Operations rejected (validation, authorization, state machine)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_op_duration_seconds",
			Help:    "Time to apply a single engine operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Sequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_sequence",
			Help: "Current global event sequence number",
		}),

		// Vault accounting
		DepositsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_deposits_total",
			Help: "Deposits accepted",
		}),

		RedemptionsQueued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_redemptions_queued_total",
			Help: "Redemption requests enqueued",
		}),

		RedemptionsSettled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_redemptions_settled_total",
			Help: "Queued redemptions settled at epoch distribution",
		}),

		EmergencyRedemptions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_emergency_redemptions_total",
			Help: "Immediate fee-bearing redemptions",
		}),

		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_redemption_queue_depth",
			Help: "Pending redemption requests",
		}),

		TotalSupply: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_receipt_total_supply",
			Help: "Receipt token total supply (BTC value, float approximation)",
		}),

		CustodyBTCValue: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_custody_btc_value",
			Help: "Aggregate custody reserve value in BTC (float approximation)",
		}),

		// Epoch lifecycle
		EpochCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_epoch_current",
			Help: "Current epoch number",
		}),

		EpochTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_epoch_transitions_total",
			Help: "Epoch lifecycle transitions by phase",
		}, []string{"phase"}),

		DistributionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_distribution_duration_seconds",
			Help:    "Time to distribute one epoch's yield and settle its queue",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		}),

		DistributionResidual: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_distribution_residual",
			Help: "Undistributed rounding residual of the last distribution (wad, float approximation)",
		}),

		EligibleDepositors: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_eligible_depositors",
			Help: "Depositors eligible in the last distribution",
		}),

		// Channel & Backpressure
		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the engine blocked on the persist channel",
		}),

		// Keeper command ingestion
		OpsCommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_commands_received_total",
			Help: "Keeper commands received over NATS",
		}, []string{"command"}),

		OpsCommandErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ops_command_errors_total",
			Help: "Keeper commands that failed",
		}, []string{"command", "reason"}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: []float64{0.00001, 0.000025, 0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01},
		}, []string{"subject"}),

		// Persistence
		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		// Snapshot
		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of last snapshot",
		}),

		// Query API
		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),

		// Projections
		ProjectionUpdateDur: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
