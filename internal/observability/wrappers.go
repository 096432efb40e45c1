package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/sandbox"
	"github.com/graphery/executor/internal/service"
)

// --- InstrumentedRunner ---

// InstrumentedRunner records every run in metrics, a span and the failure
// rate of the "run" operation. Program failures count as successful runs;
// only runs the service could not carry out feed the anomaly detector.
type InstrumentedRunner struct {
	inner   service.Runner
	metrics *MetricsCollector
	tracer  trace.Tracer
	anomaly *AnomalyDetector
}

// NewInstrumentedRunner wraps a runner. Any of metrics, ts and anomaly may be nil.
func NewInstrumentedRunner(inner service.Runner, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedRunner {
	return &InstrumentedRunner{
		inner:   inner,
		metrics: metrics,
		tracer:  ts.Tracer(),
		anomaly: anomaly,
	}
}

func (r *InstrumentedRunner) Run(ctx context.Context, req service.Request) (*service.Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "executor.run",
		trace.WithAttributes(attribute.String("run.transport", req.Transport)))
	defer span.End()

	if r.metrics != nil {
		r.metrics.ActiveRuns.Inc()
		defer r.metrics.ActiveRuns.Dec()
	}

	start := time.Now()
	out, err := r.inner.Run(ctx, req)
	elapsed := time.Since(start)

	outcome, code := runOutcome(out, err)
	span.SetAttributes(attribute.String("run.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.anomaly.RecordError("run")
	} else {
		span.SetAttributes(
			attribute.String("run.id", out.RunID),
			attribute.Bool("run.cached", out.Cached),
		)
		if outcome == string(controller.KindInternal) {
			r.anomaly.RecordError("run")
		} else {
			r.anomaly.RecordSuccess("run")
		}
	}

	if r.metrics != nil {
		r.observe(out, outcome, code, elapsed)
	}
	return out, err
}

func (r *InstrumentedRunner) observe(out *service.Outcome, outcome, code string, elapsed time.Duration) {
	r.metrics.RunsTotal.WithLabelValues(outcome, code).Inc()
	r.metrics.RunDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if out == nil {
		return
	}
	if out.Cache != "" {
		r.metrics.CacheLookupsTotal.WithLabelValues(out.Cache).Inc()
	}
	for _, p := range out.Phases {
		r.metrics.PhaseDuration.WithLabelValues(p.Name).Observe(p.Duration.Seconds())
	}
	r.metrics.RecordsProduced.Observe(float64(len(out.Result.Changes)))
}

// runOutcome returns the outcome and code labels of a run: "success", the
// failure kind, or "error" when the run could not be carried out.
func runOutcome(out *service.Outcome, err error) (string, string) {
	if err != nil {
		return "error", ""
	}
	if e := out.Result.Error; e != nil {
		return string(e.Kind), strconv.Itoa(int(e.Code))
	}
	return "success", "0"
}

// --- InstrumentedSandbox ---

// InstrumentedSandbox records child process executions. The operation
// reported to the anomaly detector is "sandbox_<type>".
type InstrumentedSandbox struct {
	inner       sandbox.Sandbox
	sandboxType string
	metrics     *MetricsCollector
	tracer      trace.Tracer
	anomaly     *AnomalyDetector
}

// NewInstrumentedSandbox wraps a sandbox. Any of metrics, ts and anomaly may be nil.
func NewInstrumentedSandbox(inner sandbox.Sandbox, sandboxType string, metrics *MetricsCollector, ts *TracerSetup, anomaly *AnomalyDetector) *InstrumentedSandbox {
	return &InstrumentedSandbox{
		inner:       inner,
		sandboxType: sandboxType,
		metrics:     metrics,
		tracer:      ts.Tracer(),
		anomaly:     anomaly,
	}
}

func (s *InstrumentedSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	ctx, span := s.tracer.Start(ctx, "sandbox.execute",
		trace.WithAttributes(attribute.String("sandbox.type", s.sandboxType)))
	defer span.End()

	start := time.Now()
	result, err := s.inner.Execute(ctx, req)
	elapsed := time.Since(start)

	status := sandboxStatus(result, err)
	span.SetAttributes(attribute.String("sandbox.status", status))
	switch status {
	case "error":
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case "signaled":
		span.SetAttributes(attribute.Int("sandbox.signal", result.Signal))
	case "nonzero_exit":
		span.SetAttributes(attribute.Int("sandbox.exit_code", result.ExitCode))
	}

	if s.metrics != nil {
		s.metrics.SandboxExecutionsTotal.WithLabelValues(s.sandboxType, status).Inc()
		s.metrics.SandboxExecutionDuration.WithLabelValues(s.sandboxType).Observe(elapsed.Seconds())
	}

	op := "sandbox_" + s.sandboxType
	if status == "error" || status == "signaled" {
		s.anomaly.RecordError(op)
	} else {
		s.anomaly.RecordSuccess(op)
	}
	return result, err
}

// sandboxStatus labels a child execution. A non-zero exit is the child
// reporting a program failure and is not a sandbox failure.
func sandboxStatus(result *sandbox.ExecutionResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case result == nil:
		return "success"
	case result.Signal != 0:
		return "signaled"
	case result.ExitCode != 0:
		return "nonzero_exit"
	}
	return "success"
}

// --- Compile-time interface checks ---

var (
	_ service.Runner  = (*InstrumentedRunner)(nil)
	_ sandbox.Sandbox = (*InstrumentedSandbox)(nil)
)
