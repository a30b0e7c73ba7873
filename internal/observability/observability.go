// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and health checks for Bosco. Every component is optional: a nil
// *Observability hands out a nil registry and a no-op tracer, and the
// metric structs built on that registry skip recording.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/bosco-os/bosco/internal/config"
)

// Observability is the top-level facade holding all observability components.
// Metrics and Tracer are nil when that feature is disabled.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Health  *HealthChecker
}

// New creates an Observability instance from config. A nil config yields
// an instance with only the health checker.
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	obs := &Observability{Health: NewHealthChecker(logger)}
	if cfg == nil {
		return obs, nil
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}
	return obs, nil
}

// Registry returns the Prometheus registry, or nil when metrics are off.
// Component metric constructors treat a nil registry as "disabled".
func (o *Observability) Registry() *prometheus.Registry {
	if o == nil || o.Metrics == nil {
		return nil
	}
	return o.Metrics.Registry
}

// TracerOrNoop returns the configured tracer or a no-op tracer.
func (o *Observability) TracerOrNoop() trace.Tracer {
	var ts *TracerSetup
	if o != nil {
		ts = o.Tracer
	}
	return ts.Tracer()
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Tracer != nil {
		_ = o.Tracer.Shutdown(ctx)
	}
}
