// Package metrics defines the Prometheus instrumentation for the sync
// pipeline. All collectors are registered on the default registry and
// exposed by the ops endpoint when one is configured.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransfersTotal counts finished transfer commands by result.
	//
	// Labels:
	//   - result: success, failure
	//   - retry: first, retry
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filesync_transfers_total",
			Help: "Total number of transfer commands by result",
		},
		[]string{"result", "retry"},
	)

	// TransferDuration observes the wall-clock time of one transfer
	// command.
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "filesync_transfer_duration_seconds",
			Help:    "Duration of transfer subprocess executions",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
	)

	// TasksDropped counts tasks dropped before execution by reason
	// (vanished, unresolvable, collision).
	TasksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filesync_tasks_dropped_total",
			Help: "Tasks dropped before any transfer ran",
		},
		[]string{"reason"},
	)

	// QueueDepth tracks the current length of the task and retry
	// queues.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "filesync_queue_depth",
			Help: "Current queue length",
		},
		[]string{"queue"},
	)

	// LiveIPs tracks the size of the reachable destination set.
	LiveIPs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filesync_live_ips",
			Help: "Number of destination IPs last reported alive",
		},
	)

	// ReloadsTotal counts configuration reloads by status.
	ReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filesync_config_reloads_total",
			Help: "Configuration reload attempts by status",
		},
		[]string{"status"},
	)

	// WatcherRestarts counts watcher subprocess respawns on reload,
	// whether the reload came from a signal, a flag file or the monitor.
	WatcherRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filesync_watcher_restarts_total",
			Help: "Event watcher subprocess restarts",
		},
	)
)
