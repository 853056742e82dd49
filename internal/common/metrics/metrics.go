package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProvisioningEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_events_total",
			Help: "Payment events processed, by terminal outcome",
		},
		[]string{"outcome", "source"},
	)

	ProvisioningAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "provisioning_attempts_total",
			Help: "Provisioning attempts including retries",
		},
		[]string{"result"},
	)

	ProvisioningDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provisioning_duration_seconds",
			Help:    "Time from event receipt to terminal outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	ProvisioningInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "provisioning_in_flight",
			Help: "Events currently being processed",
		},
	)

	ReconcileGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_gaps_total",
			Help: "Completed transactions found without a subscription",
		},
		[]string{"tenant", "reason"},
	)

	ReconcileHealed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconcile_healed_total",
			Help: "Gaps closed by re-driving a synthetic event",
		},
		[]string{"tenant", "result"},
	)

	WebhookRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound webhook deliveries by HTTP status",
		},
		[]string{"status"},
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
