// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// health checks and failure-rate anomaly detection for the executor.
// All components are optional and nil-safe. When one is disabled the
// wrappers skip it with a single nil check per operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/sandbox"
	"github.com/graphery/executor/internal/service"
)

// Observability bundles the components enabled in config. Health is always
// set; any other field may be nil.
type Observability struct {
	Metrics *MetricsCollector
	Tracer  *TracerSetup
	Anomaly *AnomalyDetector
	Health  *HealthChecker

	logger *slog.Logger
}

// New creates an Observability instance from config. A nil config disables
// everything and returns nil.
func New(cfg *config.ObservabilityConfig, build BuildInfo, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	tracer, err := NewTracerSetup(cfg.Tracing, build)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	obs := &Observability{
		Tracer: tracer,
		Health: NewHealthChecker(logger),
		logger: logger,
	}
	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
	}
	if cfg.Anomaly != nil && cfg.Anomaly.Enabled {
		obs.Anomaly = NewAnomalyDetector(cfg.Anomaly, logger)
	}
	return obs, nil
}

// Runner wraps r with every enabled component. A nil Observability
// returns r unchanged.
func (o *Observability) Runner(r service.Runner) service.Runner {
	if o == nil {
		return r
	}
	return NewInstrumentedRunner(r, o.Metrics, o.Tracer, o.Anomaly)
}

// Sandbox wraps sb the same way, labelled with the sandbox type.
func (o *Observability) Sandbox(sb sandbox.Sandbox, sandboxType string) sandbox.Sandbox {
	if o == nil {
		return sb
	}
	return NewInstrumentedSandbox(sb, sandboxType, o.Metrics, o.Tracer, o.Anomaly)
}

// AddCheck registers a readiness check. It is a no-op on nil.
func (o *Observability) AddCheck(name string, fn CheckFunc) {
	if o == nil {
		return
	}
	o.Health.AddCheck(name, fn)
}

// Shutdown flushes pending spans.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if err := o.Tracer.Shutdown(ctx); err != nil && o.logger != nil {
		o.logger.Warn("tracer shutdown failed", slog.Any("error", err))
	}
}

// TracerOrNil returns the tracer setup, nil when tracing is disabled.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

// MetricsOrNil returns the metrics collector, nil when metrics are disabled.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}

// AnomalyOrNil returns the anomaly detector, nil when detection is disabled.
func (o *Observability) AnomalyOrNil() *AnomalyDetector {
	if o == nil {
		return nil
	}
	return o.Anomaly
}
