// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivethru_turns_total",
			Help: "Total number of conversation turns processed, by intent kind and directive",
		},
		[]string{"intent", "directive"},
	)

	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivethru_turn_duration_seconds",
			Help:    "Duration of a conversation turn from utterance to directive",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"outcome"},
	)

	ResolutionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivethru_resolution_outcomes_total",
			Help: "Menu resolution outcomes",
		},
		[]string{"outcome"},
	)

	RepairActions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivethru_repair_actions_total",
			Help: "Repair policy decisions by failure kind and action",
		},
		[]string{"failure", "action"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "drivethru_sessions_active",
			Help: "Number of open conversation sessions",
		},
	)

	OrdersAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivethru_orders_accepted_total",
			Help: "Total number of orders confirmed by the customer",
		},
	)

	SessionLogDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drivethru_session_log_dropped_total",
			Help: "Session log records dropped because the buffer was full",
		},
	)

	WorkerJobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_completed_total",
			Help: "Total number of jobs completed by worker",
		},
		[]string{"task_type"},
	)

	WorkerJobsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_jobs_failed_total",
			Help: "Total number of jobs failed by worker",
		},
		[]string{"task_type", "error_code"},
	)

	WorkerJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "worker_job_duration_seconds",
			Help: "Duration of job processing in seconds",
		},
		[]string{"task_type"},
	)
)
