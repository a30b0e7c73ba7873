package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ShellRunner implements Runner on top of a Sandbox by handing the command
// line to /bin/sh -c.
type ShellRunner struct {
	sandbox Sandbox
	metrics *Metrics
	logger  *slog.Logger
}

// NewShellRunner creates a runner. metrics may be nil.
func NewShellRunner(sb Sandbox, metrics *Metrics, logger *slog.Logger) *ShellRunner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ShellRunner{sandbox: sb, metrics: metrics, logger: logger}
}

// Run executes command and converts every failure mode into a ToolResult.
func (r *ShellRunner) Run(ctx context.Context, command string, timeout time.Duration) ToolResult {
	tool := toolName(command)
	start := time.Now()

	res, err := r.sandbox.Execute(ctx, ExecutionRequest{
		Command: []string{"/bin/sh", "-c", command},
		Timeout: timeout,
	})

	var out ToolResult
	status := "success"
	switch {
	case errors.Is(err, ErrTimeout):
		status = "timeout"
		out = ToolResult{Error: "Command timed out", ReturnCode: -1}
	case err != nil:
		status = "error"
		out = ToolResult{Error: err.Error(), ReturnCode: -1}
	default:
		out = ToolResult{
			Success:    res.ExitCode == 0,
			Output:     res.Stdout,
			Error:      res.Stderr,
			ReturnCode: res.ExitCode,
		}
		if !out.Success {
			status = "failure"
		}
	}

	r.metrics.observe(tool, status, time.Since(start))
	if !out.Success {
		r.logger.WarnContext(ctx, "tool command failed",
			slog.String("tool", tool),
			slog.Int("returncode", out.ReturnCode),
			slog.String("status", status),
		)
	}
	return out
}

// toolName is the base name of the first word of a command line.
func toolName(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "unknown"
	}
	return filepath.Base(fields[0])
}

// Metrics holds Prometheus metrics for tool executions.
type Metrics struct {
	Executions *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
}

// NewMetrics creates and registers tool metrics. Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}
	m := &Metrics{
		Executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bosco",
			Subsystem: "tool",
			Name:      "executions_total",
			Help:      "Tool command executions by tool and status.",
		}, []string{"tool", "status"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bosco",
			Subsystem: "tool",
			Name:      "execution_duration_seconds",
			Help:      "Tool command wall-clock duration.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"tool"}),
	}
	reg.MustRegister(m.Executions, m.Duration)
	return m
}

func (m *Metrics) observe(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(tool, status).Inc()
	m.Duration.WithLabelValues(tool).Observe(d.Seconds())
}
