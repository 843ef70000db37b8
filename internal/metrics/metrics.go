package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	JobsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderq_jobs_enqueued_total",
			Help: "Total number of jobs accepted into the queue",
		},
		[]string{"job_type"},
	)

	JobsDispatchedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderq_jobs_dispatched_total",
			Help: "Total number of jobs claimed and handed to a render backend",
		},
		[]string{"job_type"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderq_jobs_completed_total",
			Help: "Total number of jobs that finished rendering successfully",
		},
		[]string{"job_type"},
	)

	JobsFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "renderq_jobs_failed_total",
			Help: "Total number of jobs that failed terminally",
		},
		[]string{"job_type", "category"},
	)

	JobsRequeuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderq_jobs_requeued_total",
			Help: "Total number of jobs requeued after a retryable failure",
		},
	)

	JobsReapedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderq_jobs_reaped_total",
			Help: "Total number of stuck jobs reclaimed by the timeout reaper",
		},
	)

	JobsCancelledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "renderq_jobs_cancelled_total",
			Help: "Total number of queued jobs cancelled by users",
		},
	)

	// Gauges
	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderq_jobs_queued",
			Help: "Current number of queued jobs",
		},
	)

	JobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "renderq_jobs_processing",
			Help: "Current number of jobs being rendered",
		},
	)

	// Renders run for minutes, so buckets reach ~68m
	RenderDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderq_render_duration_seconds",
			Help:    "Wall-clock duration of render backend calls in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1s to ~68m
		},
		[]string{"job_type"},
	)
)
