// Package telemetry centralizes Prometheus metrics and logger construction.
// Metrics are package-level and auto-registered; import the package and use
// the vars directly.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RunsTotal counts pipeline runs by type and final status.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Pipeline runs by type and final status.",
	}, []string{"type", "status"})

	// RunDuration observes end-to-end run latency.
	RunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "End-to-end pipeline run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"type"})

	// TasksTotal counts task outcomes by task name and terminal status.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_tasks_total",
		Help: "Task outcomes by name and terminal status.",
	}, []string{"task", "status"})

	// TaskDuration observes per-task wall time, successful attempts only.
	TaskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pipeline_task_duration_seconds",
		Help:    "Per-task duration for successful tasks.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"task"})

	// TaskRetries counts retry attempts beyond the first, by task.
	TaskRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_task_retries_total",
		Help: "Retry attempts beyond the first, by task.",
	}, []string{"task"})

	// FindingsTotal counts analyzer findings by kind.
	FindingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_findings_total",
		Help: "Analyzer findings by kind.",
	}, []string{"kind"})

	// InsightsTotal counts insights by category and lifecycle outcome.
	InsightsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_insights_total",
		Help: "Insights by category and lifecycle outcome.",
	}, []string{"category", "outcome"})

	// MetricsSkipped counts metrics skipped for insufficient data.
	MetricsSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_metrics_skipped_total",
		Help: "Metrics skipped for insufficient data.",
	}, []string{"metric"})
)
