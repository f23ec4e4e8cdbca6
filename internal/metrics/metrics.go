package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	logName   = "log_name"
	cmd       = "cmd"
	modelName = "model_name"
)

var (
	// AppendedEvents counts records committed to the log, live and promoted.
	AppendedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_appended_events_count",
		Help: "Number of events appended to the log",
	}, []string{logName})

	// ExecutionErrors counts failed event executions, live and replayed.
	ExecutionErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_execution_error_count",
		Help: "Number of event executions that failed",
	}, []string{logName, cmd})

	// ExecuteLatency is how long one event takes through migrate, dispatch and
	// callback.
	ExecuteLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventfold_execute_latency_seconds",
		Help:    "Single event execution latency in seconds",
		Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 10, 60},
	}, []string{logName})

	// ReplayedEvents counts records processed by replay runs.
	ReplayedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_replayed_events_count",
		Help: "Number of events processed during replay",
	}, []string{logName})

	// PendingPromoted counts pending events whose wait conditions were satisfied
	// and that were appended and executed.
	PendingPromoted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_pending_promoted_count",
		Help: "Number of pending events promoted and executed",
	}, []string{logName})

	// PendingExpired counts pending events swept past their deadline.
	PendingExpired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_pending_expired_count",
		Help: "Number of pending events that expired before satisfaction",
	}, []string{logName})

	// HookErrors counts append hook invocations that returned an error.
	HookErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_hook_error_count",
		Help: "Number of append hook failures",
	}, []string{logName})

	SnapshotsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_snapshots_created_count",
		Help: "Number of snapshots created",
	}, []string{modelName})

	SnapshotsRestored = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "eventfold_snapshots_restored_count",
		Help: "Number of snapshots restored",
	}, []string{modelName})
)

func init() {
	prometheus.MustRegister(
		AppendedEvents,
		ExecutionErrors,
		ExecuteLatency,
		ReplayedEvents,
		PendingPromoted,
		PendingExpired,
		HookErrors,
		SnapshotsCreated,
		SnapshotsRestored,
	)
}

func Reset() {
	AppendedEvents.Reset()
	ExecutionErrors.Reset()
	ExecuteLatency.Reset()
	ReplayedEvents.Reset()
	PendingPromoted.Reset()
	PendingExpired.Reset()
	HookErrors.Reset()
	SnapshotsCreated.Reset()
	SnapshotsRestored.Reset()
}
