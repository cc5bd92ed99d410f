package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Refresh metrics, registered with the default registry via promauto.
var (
	// RunsTotal counts finished refreshes by outcome and trigger source.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "runs_total",
			Help:      "Total number of refresh runs by status and trigger",
		},
		[]string{"status", "trigger"},
	)

	// RunDuration tracks end-to-end refresh duration.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "duration_seconds",
			Help:      "Duration of refresh runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17m
		},
		[]string{"status"},
	)

	// StepDuration tracks each step of the refresh sequence.
	StepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "step_duration_seconds",
			Help:      "Duration of refresh steps in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"step", "status"},
	)

	// LastSuccess is the unix time of the last successful refresh.
	LastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		},
	)

	// InProgress is 1 while a refresh holds the lock.
	InProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "in_progress",
			Help:      "Number of refreshes currently running",
		},
	)

	// LockWait tracks time spent waiting for the refresh lock.
	LockWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for the refresh lock",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		},
	)

	// Rejected counts triggers refused before running (breaker open, lock errors).
	Rejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "refreshd",
			Subsystem: "refresh",
			Name:      "rejected_total",
			Help:      "Total number of refresh triggers rejected before running",
		},
		[]string{"reason"},
	)
)

// RecordRun records metrics for a finished refresh.
func RecordRun(status, trigger string, duration time.Duration, finishedAt time.Time) {
	RunsTotal.WithLabelValues(status, trigger).Inc()
	RunDuration.WithLabelValues(status).Observe(duration.Seconds())
	if status == "success" {
		LastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// RecordStep records the duration of one refresh step.
func RecordStep(step, status string, duration time.Duration) {
	StepDuration.WithLabelValues(step, status).Observe(duration.Seconds())
}
