// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlanGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_generations_total",
			Help: "Total number of finished plan generation cycles by outcome",
		},
		[]string{"status"},
	)

	PlanGenerationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_generation_failures_total",
			Help: "Total number of failed plan generations by error code",
		},
		[]string{"error_code"},
	)

	PlanGenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_generation_duration_seconds",
			Help:    "Duration of a remote plan generation including warm-up",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"status"},
	)

	PlanGenerationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plan_generations_active",
			Help: "Number of remote agent invocations in flight",
		},
	)

	AgentPartialFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_partial_frames_total",
			Help: "Total number of partial output frames streamed by the agent",
		},
		[]string{"agent_id"},
	)

	PlanDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_deliveries_total",
			Help: "Total number of plan delivery attempts by channel and outcome",
		},
		[]string{"channel", "status"},
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
