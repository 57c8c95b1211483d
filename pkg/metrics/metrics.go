// Package metrics declares the Prometheus collectors shared by the worker
// and the correlation API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksProcessed counts executed tasks.
	// Labels:
	//   - status: "completed", "failed", "business_error", "unacknowledged", "skipped" or "lock_expired"
	//   - topic: external task topic
	TasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimworker_tasks_total",
		Help: "The total number of executed external tasks",
	}, []string{"status", "topic"})

	// TaskDuration tracks handler execution plus outcome reporting, in seconds.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claimworker_task_duration_seconds",
		Help:    "Duration of task execution including outcome report",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})

	// TasksFetched counts tasks returned by fetchAndLock.
	TasksFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimworker_tasks_fetched_total",
		Help: "Tasks fetched and locked from the engine",
	}, []string{"topic"})

	// PollErrors counts failed fetchAndLock calls.
	// Labels:
	//   - kind: "connection", "application" or "circuit_open"
	PollErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimworker_poll_errors_total",
		Help: "Failed long-poll requests to the engine",
	}, []string{"kind"})

	// Correlations counts message correlation attempts.
	// Labels:
	//   - message: message name
	//   - result: "success", "connection_error", "application_error" or "rejected"
	Correlations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claimworker_correlations_total",
		Help: "Message correlation attempts by result",
	}, []string{"message", "result"})

	// JournalDepth tracks the number of entries in each journal list.
	// Updated by a cron job in the worker.
	JournalDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "claimworker_journal_depth",
		Help: "Number of entries in each outcome journal list",
	}, []string{"list"})

	// InFlight is the number of tasks currently executing.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claimworker_tasks_in_flight",
		Help: "Tasks currently being executed",
	})
)
