package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RPC pool metrics
var (
	RPCRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_requests_total",
		Help: "The total number of RPC calls issued to upstream endpoints",
	}, []string{"method"})

	RPCRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_retries_total",
		Help: "The number of RPC call attempts that were retried",
	}, []string{"method"})

	RPCFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rpc_failures_total",
		Help: "The number of RPC calls that failed after exhausting retries",
	}, []string{"method"})

	RPCDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rpc_request_duration_seconds",
		Help:    "Time spent on a single RPC call including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	RPCInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rpc_in_flight_requests",
		Help: "The number of RPC calls currently holding a pool slot",
	})
)

// Scanner metrics
var (
	ChainHead = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_chain_head",
		Help: "The latest block number reported by the chain",
	})

	LastScannedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_last_processed_block",
		Help: "The last block number durably recorded in the sync checkpoint",
	})

	ScannedBatchSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scanner_batch_size",
		Help: "The number of blocks covered by the last scanned batch",
	})

	ScannedLogs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_inserted_logs_total",
		Help: "The total number of new raw logs persisted by the scanner",
	})

	ScannerBatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scanner_batch_failures_total",
		Help: "The number of scanner batches aborted without advancing the checkpoint",
	})

	ScannerInsertDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scanner_insert_duration_seconds",
		Help:    "Time taken to persist one batch of raw logs",
		Buckets: prometheus.DefBuckets,
	})
)

// Replay metrics
var (
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "replay_run_duration_seconds",
		Help:    "Time taken by one replay run",
		Buckets: prometheus.DefBuckets,
	})

	ReplayEventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_events_applied_total",
		Help: "The number of decoded events applied per event type",
	}, []string{"event"})

	ReplayGroupFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_group_failures_total",
		Help: "The number of token groups whose replay failed and was left for the next run",
	})

	ReplayDecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_decode_failures_total",
		Help: "The number of raw logs that could not be decoded",
	})

	ReplayAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_anomalies_total",
		Help: "The number of events skipped because they violated a market invariant",
	}, []string{"reason"})

	ReplayPendingLogs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "replay_pending_logs",
		Help: "The number of unprocessed logs selected by the last replay run",
	})

	ReserveDrift = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_reserve_drift_total",
		Help: "The number of flushes where the on-chain reserves differed from the replayed ones",
	})

	GraduationSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_graduation_submissions_total",
		Help: "The number of graduation transactions submitted on-chain",
	}, []string{"status"})
)

// Fanout metrics
var (
	FanoutClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fanout_connected_clients",
		Help: "The number of connected websocket clients",
	})

	FanoutSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fanout_subscriptions",
		Help: "The number of active subscriptions per scope",
	}, []string{"scope"})

	FanoutMessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fanout_messages_sent_total",
		Help: "The number of frames queued to clients per event",
	}, []string{"event"})

	FanoutMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fanout_messages_dropped_total",
		Help: "The number of frames dropped because a client send queue was full",
	})
)

// Publisher metrics
var (
	PublisherMessagesPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_messages_published_total",
		Help: "The number of notifications written to kafka",
	})

	PublisherErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "publisher_errors_total",
		Help: "The number of notifications kafka failed to accept",
	})
)

// Retention metrics
var (
	RetentionDeletedLogs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "retention_deleted_logs_total",
		Help: "The number of processed raw logs deleted by the retention sweep",
	})

	RetentionLastRun = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "retention_last_run_timestamp_seconds",
		Help: "Unix time of the last completed retention sweep",
	})
)
