package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the orchestrator.
type Metrics struct {
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	RoutingFailures  prometheus.Counter
	ActiveTasks      prometheus.Gauge
	WorkflowsTotal   *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	WorkflowSteps    *prometheus.CounterVec
	ActiveWorkflows  prometheus.Gauge
}

// NewMetrics creates and registers orchestrator metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "orchestrator",
			Name:      "tasks_total",
			Help:      "Tasks run by agent and final status.",
		}, []string{"agent", "status"}),

		TaskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bosco",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Task run duration by agent.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"agent"}),

		RoutingFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "orchestrator",
			Name:      "routing_failures_total",
			Help:      "Tasks no registered agent could handle.",
		}),

		ActiveTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bosco",
			Subsystem: "orchestrator",
			Name:      "active_tasks",
			Help:      "Tasks currently running.",
		}),

		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "workflow",
			Name:      "total",
			Help:      "Workflows by final state.",
		}, []string{"state"}),

		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bosco",
			Subsystem: "workflow",
			Name:      "duration_seconds",
			Help:      "Workflow duration by final state.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"state"}),

		WorkflowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "workflow",
			Name:      "steps_total",
			Help:      "Workflow steps by status.",
		}, []string{"status"}),

		ActiveWorkflows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bosco",
			Subsystem: "workflow",
			Name:      "active",
			Help:      "Workflows currently running.",
		}),
	}

	reg.MustRegister(
		m.TasksTotal,
		m.TaskDuration,
		m.RoutingFailures,
		m.ActiveTasks,
		m.WorkflowsTotal,
		m.WorkflowDuration,
		m.WorkflowSteps,
		m.ActiveWorkflows,
	)

	return m
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.ActiveTasks.Inc()
	}
}

func (m *Metrics) taskFinished(agentID string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTasks.Dec()
	m.TasksTotal.WithLabelValues(agentID, statusLabel(success)).Inc()
	m.TaskDuration.WithLabelValues(agentID).Observe(d.Seconds())
}

func (m *Metrics) routingFailed() {
	if m != nil {
		m.RoutingFailures.Inc()
	}
}

func (m *Metrics) workflowStarted() {
	if m != nil {
		m.ActiveWorkflows.Inc()
	}
}

func (m *Metrics) stepFinished(success bool) {
	if m != nil {
		m.WorkflowSteps.WithLabelValues(statusLabel(success)).Inc()
	}
}

func (m *Metrics) workflowFinished(state WorkflowState, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveWorkflows.Dec()
	m.WorkflowsTotal.WithLabelValues(string(state)).Inc()
	m.WorkflowDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
