package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Investigation service metrics for production monitoring
var (
	// Session metrics
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_sessions_total",
			Help: "Total number of investigation sessions by terminal status",
		},
		[]string{"workflow_type", "status"},
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsprobe_session_duration_seconds",
			Help:    "End-to-end session duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
		[]string{"workflow_type"},
	)

	// Workflow metrics
	WorkflowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_workflow_transitions_total",
			Help: "Total number of state machine transitions",
		},
		[]string{"workflow_type", "state"},
	)

	WorkflowIterations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_workflow_iterations_total",
			Help: "Total number of collection iterations across sessions",
		},
		[]string{"workflow_type"},
	)

	DecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_decisions_total",
			Help: "Total number of confidence policy decisions",
		},
		[]string{"workflow_type", "action_class"},
	)

	EvidenceCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_evidence_collected_total",
			Help: "Total number of evidence items collected",
		},
		[]string{"workflow_type"},
	)

	// Oracle metrics
	OracleRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_oracle_requests_total",
			Help: "Total number of oracle API requests",
		},
		[]string{"model", "status"},
	)

	OracleTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_oracle_tokens_total",
			Help: "Total number of oracle tokens consumed",
		},
		[]string{"model", "type"}, // type: input/output
	)

	OracleRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsprobe_oracle_request_duration_seconds",
			Help:    "Oracle request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"model"},
	)

	OracleRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsprobe_oracle_retries_total",
			Help: "Total number of oracle call retries",
		},
	)

	// Checkpoint metrics
	CheckpointWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_checkpoint_writes_total",
			Help: "Total number of checkpoint writes",
		},
		[]string{"status"}, // status: ok/error
	)

	CheckpointsSwept = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opsprobe_checkpoints_swept_total",
			Help: "Total number of checkpoints removed by TTL sweep",
		},
	)

	// Data source metrics
	DataSourceCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_datasource_calls_total",
			Help: "Total number of data source collect calls",
		},
		[]string{"source", "status"}, // status: ok/timeout/error
	)

	DataSourceDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opsprobe_datasource_call_duration_seconds",
			Help:    "Data source collect duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"source"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opsprobe_cache_requests_total",
			Help: "Data source cache lookups",
		},
		[]string{"result"}, // result: hit/miss
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "opsprobe_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)
)
