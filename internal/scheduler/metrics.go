package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the scheduler.
type Metrics struct {
	JobsFired     *prometheus.CounterVec
	JobsSucceeded *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsSkipped   *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
}

// NewMetrics creates and registers scheduler metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		JobsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "scheduler",
			Name:      "jobs_fired_total",
			Help:      "Scheduled jobs fired, by job.",
		}, []string{"job"}),
		JobsSucceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "scheduler",
			Name:      "jobs_succeeded_total",
			Help:      "Scheduled jobs whose workflow completed.",
		}, []string{"job"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "scheduler",
			Name:      "jobs_failed_total",
			Help:      "Scheduled jobs whose workflow failed or could not start.",
		}, []string{"job"}),
		JobsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "scheduler",
			Name:      "jobs_skipped_total",
			Help:      "Firings skipped because the previous run was still in progress.",
		}, []string{"job"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bosco",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Duration of scheduled workflow runs.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"job"}),
	}

	reg.MustRegister(
		m.JobsFired,
		m.JobsSucceeded,
		m.JobsFailed,
		m.JobsSkipped,
		m.JobDuration,
	)

	return m
}
