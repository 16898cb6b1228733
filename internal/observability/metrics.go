package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the service exports.
type Metrics struct {
	// Core processing
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreStateHashDur   prometheus.Histogram
	CoreSequence       prometheus.Gauge

	// Channels and backpressure
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PersistBackpressure prometheus.Counter
	NATSPullLatency     *prometheus.HistogramVec

	// Idempotency and ordering
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	EventSequenceGap      *prometheus.CounterVec
	EventOutOfOrder       *prometheus.CounterVec

	// Batch authorization
	BatchesSubmitted  prometheus.Counter
	BatchesConfirmed  prometheus.Counter
	BatchesExecuted   prometheus.Counter
	BatchesExpired    prometheus.Counter
	BatchTradeCount   prometheus.Histogram
	BatchQuorumLag    prometheus.Histogram
	ActiveBatches     prometheus.Gauge

	// Risk
	LiquidationsTotal    *prometheus.CounterVec
	LiquidationShortfall *prometheus.CounterVec
	ADLEventsTotal       *prometheus.CounterVec
	ADLPositionsClosed   *prometheus.CounterVec
	InsuranceFundBalance prometheus.Gauge

	// Funding
	FundingSettlements *prometheus.CounterVec
	FundingNotDue      *prometheus.CounterVec

	// Persistence
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// Snapshot and replay
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	pullBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_core_events_rejected_total",
			Help: "Events rejected (dedup, gap, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_core_state_hash_duration_seconds",
			Help:    "Time to compute the state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_core_sequence",
			Help: "Current global sequence number",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ledger_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		ProjectionDrops: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}, []string{"projection"}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_backpressure_total",
			Help: "Times core blocked on the persist channel",
		}),

		NATSPullLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_nats_pull_latency_seconds",
			Help:    "NATS pull request latency",
			Buckets: pullBuckets,
		}, []string{"subject"}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: latencyBuckets,
		}),

		EventSequenceGap: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_sequence_gap_total",
			Help: "Source sequence gaps",
		}, []string{"partition"}),

		EventOutOfOrder: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_event_out_of_order_total",
			Help: "Out-of-order rejections",
		}, []string{"partition"}),

		BatchesSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_submitted_total",
			Help: "Trade batches submitted",
		}),

		BatchesConfirmed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_confirmed_total",
			Help: "Batch attestations accepted",
		}),

		BatchesExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_executed_total",
			Help: "Trade batches executed",
		}),

		BatchesExpired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_batches_expired_total",
			Help: "Trade batches pruned after the attestation window",
		}),

		BatchTradeCount: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_batch_trade_count",
			Help:    "Trades per executed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}),

		BatchQuorumLag: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_batch_quorum_lag_seconds",
			Help:    "Submit to quorum time",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		ActiveBatches: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_active_batches",
			Help: "Batches currently tracked in memory",
		}),

		LiquidationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_liquidations_total",
			Help: "Liquidations completed (solvent/bankrupt)",
		}, []string{"market", "outcome"}),

		LiquidationShortfall: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_liquidation_shortfall_total",
			Help: "Shortfall left after margin (insurance fund draws)",
		}, []string{"market"}),

		ADLEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_adl_events_total",
			Help: "Auto-deleveraging rounds executed",
		}, []string{"market", "reason"}),

		ADLPositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_adl_positions_closed_total",
			Help: "Positions force-closed by auto-deleveraging",
		}, []string{"market"}),

		InsuranceFundBalance: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_insurance_fund_balance",
			Help: "Current insurance fund balance (e6)",
		}),

		FundingSettlements: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_funding_settlements_total",
			Help: "Funding settlements applied",
		}, []string{"market"}),

		FundingNotDue: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_funding_not_due_total",
			Help: "Funding settlements rejected inside the interval",
		}, []string{"market"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_persist_batch_size",
			Help:    "Events per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ledger_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastSeq: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ReplayDuration: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ledger_replay_duration_seconds",
			Help: "Total replay time",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),

		QueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_query_errors_total",
			Help: "Query errors",
		}, []string{"endpoint", "code"}),
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
