package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/graphery/executor/internal/config"
	"github.com/graphery/executor/internal/controller"
	"github.com/graphery/executor/internal/recorder"
	"github.com/graphery/executor/internal/sandbox"
	"github.com/graphery/executor/internal/service"
)

// --- No-op Path ---

func TestNew_NilConfig(t *testing.T) {
	obs, err := New(nil, BuildInfo{}, nil)
	if err != nil {
		t.Fatalf("New(nil) error: %v", err)
	}
	if obs != nil {
		t.Fatal("expected nil Observability for nil config")
	}
}

func TestNew_AllDisabled(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{}, BuildInfo{}, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if obs == nil {
		t.Fatal("expected non-nil Observability")
	}
	if obs.Metrics != nil {
		t.Error("metrics should be nil when not enabled")
	}
	if obs.Tracer != nil {
		t.Error("tracer should be nil when not enabled")
	}
	if obs.Anomaly != nil {
		t.Error("anomaly should be nil when not enabled")
	}
	if obs.Health == nil {
		t.Error("health checker should always be created")
	}
}

func TestObservability_ShutdownNil(t *testing.T) {
	// Should not panic.
	var obs *Observability
	obs.Shutdown(context.Background())
}

func TestTracerOrNil_Nil(t *testing.T) {
	var obs *Observability
	if obs.TracerOrNil() != nil {
		t.Error("expected nil tracer from nil Observability")
	}
	if obs.MetricsOrNil() != nil || obs.AnomalyOrNil() != nil {
		t.Error("expected nil components from nil Observability")
	}
}

func TestObservability_NilWrappersPassThrough(t *testing.T) {
	var obs *Observability
	inner := &mockRunner{}
	if obs.Runner(inner) != service.Runner(inner) {
		t.Error("nil Observability should return the runner unchanged")
	}
	sb := &mockSandbox{}
	if obs.Sandbox(sb, "process") != sandbox.Sandbox(sb) {
		t.Error("nil Observability should return the sandbox unchanged")
	}
	obs.AddCheck("db", func(context.Context) error { return nil })
}

func TestObservability_Wraps(t *testing.T) {
	obs, err := New(&config.ObservabilityConfig{
		Metrics: &config.MetricsConfig{Enabled: true},
		Anomaly: &config.AnomalyConfig{Enabled: true},
	}, BuildInfo{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := obs.Runner(&mockRunner{}).(*InstrumentedRunner); !ok {
		t.Error("runner not instrumented")
	}
	obs.AddCheck("sandbox", func(context.Context) error { return errors.New("missing binary") })
	if st := obs.Health.CheckReady(context.Background()); st.Status != "degraded" {
		t.Errorf("ready = %+v", st)
	}
}

func TestTracerSetup_NilTracer(t *testing.T) {
	var ts *TracerSetup
	if ts.Tracer() == nil {
		t.Error("nil setup should hand out a no-op tracer")
	}
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

func TestTracerSetup_ExportsWithBuildInfo(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	res := spanResource(&config.TracingConfig{}, BuildInfo{Version: "1.2.0", Protocol: controller.ProtocolVersion})
	ts := newTracerSetup(exp, res, 0)

	_, span := ts.Tracer().Start(context.Background(), "controller.run")
	span.End()
	if err := ts.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "controller.run" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Resource.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["service.name"] != "graphery-executor" || attrs["service.version"] != "1.2.0" {
		t.Errorf("resource = %v", attrs)
	}
	if attrs["executor.protocol_version"] != controller.ProtocolVersion {
		t.Errorf("protocol attribute = %q", attrs["executor.protocol_version"])
	}
}

func TestNewTracerSetup_Disabled(t *testing.T) {
	ts, err := NewTracerSetup(&config.TracingConfig{Enabled: false}, BuildInfo{})
	if err != nil || ts != nil {
		t.Errorf("disabled tracing = %v, %v", ts, err)
	}
}

// --- MetricsCollector ---

func TestMetricsCollector_Created(t *testing.T) {
	m := NewMetricsCollector()
	if m == nil {
		t.Fatal("expected non-nil MetricsCollector")
	}
	if m.Registry == nil {
		t.Fatal("expected non-nil Registry")
	}

	// Verify some metrics are registered by gathering.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	// Initialize some metrics so they appear in Gather (CounterVec only appears after first use).
	m.RunsTotal.WithLabelValues("success", "0").Inc()
	m.SandboxExecutionsTotal.WithLabelValues("test", "success").Inc()
	m.CacheLookupsTotal.WithLabelValues("hit").Inc()
	m.HTTPRequestsTotal.WithLabelValues("GET", "/test", "200").Inc()

	families, err = m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error after increment: %v", err)
	}

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, expected := range []string{
		"executor_run_total",
		"executor_sandbox_executions_total",
		"executor_cache_lookups_total",
		"executor_http_requests_total",
		"go_goroutines",
	} {
		if !names[expected] {
			t.Errorf("metric %q not found in registry", expected)
		}
	}
}

func TestMetricsCollector_RecordAndGather(t *testing.T) {
	m := NewMetricsCollector()

	// Increment a counter.
	m.RunsTotal.WithLabelValues("success", "0").Inc()
	m.RunsTotal.WithLabelValues("success", "0").Inc()
	m.RunsTotal.WithLabelValues("error", "").Inc()

	// Gather and verify.
	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}

	var found bool
	for _, f := range families {
		if f.GetName() == "executor_run_total" {
			found = true
			for _, metric := range f.GetMetric() {
				labels := labelMap(metric.GetLabel())
				if labels["outcome"] == "success" {
					if got := metric.GetCounter().GetValue(); got != 2 {
						t.Errorf("success count = %v, want 2", got)
					}
				}
				if labels["outcome"] == "error" {
					if got := metric.GetCounter().GetValue(); got != 1 {
						t.Errorf("error count = %v, want 1", got)
					}
				}
			}
		}
	}
	if !found {
		t.Error("executor_run_total not found")
	}
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	m := make(map[string]string)
	for _, p := range pairs {
		m[p.GetName()] = p.GetValue()
	}
	return m
}

// --- HealthChecker ---

func TestHealthChecker_NoChecks(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
}

func TestHealthChecker_AllPass(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return nil })
	h.AddCheck("sandbox", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "ok" {
		t.Errorf("status = %q, want ok", status.Status)
	}
	if status.Checks["db"].Status != "ok" {
		t.Errorf("db check = %q, want ok", status.Checks["db"].Status)
	}
}

func TestHealthChecker_OneFails(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error { return errors.New("connection refused") })
	h.AddCheck("sandbox", func(ctx context.Context) error { return nil })

	status := h.CheckReady(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["db"].Status != "fail" {
		t.Errorf("db check = %q, want fail", status.Checks["db"].Status)
	}
	if status.Checks["sandbox"].Status != "ok" {
		t.Errorf("sandbox check = %q, want ok", status.Checks["sandbox"].Status)
	}
	if status.Checks["db"].Message != "connection refused" || status.Checks["db"].Duration == "" {
		t.Errorf("db check = %+v", status.Checks["db"])
	}
}

func TestHealthChecker_SlowCheckTimesOut(t *testing.T) {
	h := NewHealthChecker(nil)
	h.AddCheck("db", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	status := h.CheckReady(ctx)
	if status.Status != "degraded" || status.Checks["db"].Status != "fail" {
		t.Errorf("status = %+v", status)
	}
}

func TestHealthChecker_Liveness(t *testing.T) {
	h := NewHealthChecker(nil)
	status := h.CheckHealth()
	if status.Status != "ok" || status.Uptime == "" {
		t.Errorf("liveness = %+v", status)
	}
}

// --- AnomalyDetector ---

func TestAnomalyDetector_NilSafe(t *testing.T) {
	// All methods should be no-ops on nil receiver.
	var a *AnomalyDetector
	a.RecordError("test")
	a.RecordSuccess("test")
	if a.Anomalies() != 0 {
		t.Error("nil detector reports no anomalies")
	}
}

func TestAnomalyDetector_ErrorRateThreshold(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{
		Enabled:            true,
		ErrorRateThreshold: 0.5,
		WindowSeconds:      60,
	}, nil)

	// 6 errors, 4 successes = 60% error rate > 50%
	for i := 0; i < 4; i++ {
		a.RecordSuccess("test_op")
	}
	for i := 0; i < 6; i++ {
		a.RecordError("test_op")
	}

	failures, total := a.Rate("test_op")
	if failures != 6 || total != 10 {
		t.Errorf("rate = %d/%d, want 6/10", failures, total)
	}
	if a.Anomalies() != 1 {
		t.Errorf("anomalies = %d, want one alert for a sustained rate", a.Anomalies())
	}
}

func TestAnomalyDetector_AlertClearsAndRefires(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5}, nil)
	for range 5 {
		a.RecordError("run")
	}
	for range 10 {
		a.RecordSuccess("run")
	}
	if a.alerting["run"] {
		t.Error("alert not cleared after recovery")
	}
	for range 20 {
		a.RecordError("run")
	}
	if a.Anomalies() != 2 {
		t.Errorf("anomalies = %d, want 2", a.Anomalies())
	}
}

func TestAnomalyDetector_WindowExpires(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, WindowSeconds: 10}, nil)
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }

	for range 3 {
		a.RecordError("run")
	}
	now = now.Add(11 * time.Second)
	a.RecordSuccess("run")

	if failures, total := a.Rate("run"); failures != 0 || total != 1 {
		t.Errorf("rate = %d/%d, want 0/1 after the window passed", failures, total)
	}
}

func TestAnomalyDetector_NotEnoughData(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.1}, nil)
	for range 4 {
		a.RecordError("run")
	}
	if a.Anomalies() != 0 {
		t.Errorf("anomalies = %d, want 0 below five samples", a.Anomalies())
	}
}

// --- InstrumentedRunner (wrapper) ---

type mockRunner struct {
	out    *service.Outcome
	err    error
	called int
}

func (m *mockRunner) Run(ctx context.Context, req service.Request) (*service.Outcome, error) {
	m.called++
	return m.out, m.err
}

func TestInstrumentedRunner_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockRunner{out: &service.Outcome{
		RunID:  "r1",
		Result: &controller.Result{Changes: []recorder.Record{{Line: 0}, {Line: 1}}},
		Cache:  service.CacheMiss,
		Phases: []controller.Phase{{Name: "run", Duration: time.Millisecond}},
	}}

	r := NewInstrumentedRunner(inner, metrics, nil, nil)
	out, err := r.Run(context.Background(), service.Request{Transport: "http"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.RunID != "r1" || inner.called != 1 {
		t.Errorf("outcome = %+v, called %d", out, inner.called)
	}

	if val := counterValue(t, metrics.Registry, "executor_run_total", prometheus.Labels{"outcome": "success", "code": "0"}); val != 1 {
		t.Errorf("runs = %v, want 1", val)
	}
	if val := counterValue(t, metrics.Registry, "executor_cache_lookups_total", prometheus.Labels{"result": "miss"}); val != 1 {
		t.Errorf("cache misses = %v, want 1", val)
	}
}

func TestInstrumentedRunner_ProgramFailure(t *testing.T) {
	metrics := NewMetricsCollector()
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true, ErrorRateThreshold: 0.5}, nil)
	inner := &mockRunner{out: &service.Outcome{Result: &controller.Result{Error: &controller.Error{
		Code: controller.CodeRunner, Kind: controller.KindRuntime, Message: "NameError",
	}}}}

	r := NewInstrumentedRunner(inner, metrics, nil, a)
	for range 5 {
		if _, err := r.Run(context.Background(), service.Request{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if val := counterValue(t, metrics.Registry, "executor_run_total", prometheus.Labels{"outcome": "runtime_failure", "code": "13"}); val != 5 {
		t.Errorf("runtime failures = %v, want 5", val)
	}
	if a.Anomalies() != 0 {
		t.Error("program failures are not service failures")
	}
}

func TestInstrumentedRunner_Error(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockRunner{err: errors.New("sandbox unavailable")}

	r := NewInstrumentedRunner(inner, metrics, nil, nil)
	if _, err := r.Run(context.Background(), service.Request{}); err == nil {
		t.Fatal("expected error")
	}
	if val := counterValue(t, metrics.Registry, "executor_run_total", prometheus.Labels{"outcome": "error"}); val != 1 {
		t.Errorf("error runs = %v, want 1", val)
	}
}

func TestInstrumentedRunner_NilMetrics(t *testing.T) {
	inner := &mockRunner{out: &service.Outcome{Result: &controller.Result{}}}

	// nil metrics should not panic.
	r := NewInstrumentedRunner(inner, nil, nil, nil)
	if _, err := r.Run(context.Background(), service.Request{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// --- InstrumentedSandbox (wrapper) ---

type mockSandbox struct {
	result *sandbox.ExecutionResult
	err    error
}

func (m *mockSandbox) Execute(ctx context.Context, req sandbox.ExecutionRequest) (*sandbox.ExecutionResult, error) {
	return m.result, m.err
}

func TestInstrumentedSandbox_Success(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{
		result: &sandbox.ExecutionResult{ExitCode: 0, Duration: 100 * time.Millisecond},
	}

	s := NewInstrumentedSandbox(inner, "process", metrics, nil, nil)
	result, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"echo"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0", result.ExitCode)
	}

	val := counterValue(t, metrics.Registry, "executor_sandbox_executions_total", prometheus.Labels{"type": "process", "status": "success"})
	if val != 1 {
		t.Errorf("sandbox executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_Signaled(t *testing.T) {
	metrics := NewMetricsCollector()
	inner := &mockSandbox{result: &sandbox.ExecutionResult{ExitCode: -1, Signal: 24}}

	s := NewInstrumentedSandbox(inner, "docker", metrics, nil, nil)
	if _, err := s.Execute(context.Background(), sandbox.ExecutionRequest{Command: []string{"executor"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val := counterValue(t, metrics.Registry, "executor_sandbox_executions_total", prometheus.Labels{"type": "docker", "status": "signaled"}); val != 1 {
		t.Errorf("signaled executions = %v, want 1", val)
	}
}

func TestInstrumentedSandbox_FailuresFeedAnomaly(t *testing.T) {
	a := NewAnomalyDetector(&config.AnomalyConfig{Enabled: true}, nil)
	crashed := NewInstrumentedSandbox(&mockSandbox{result: &sandbox.ExecutionResult{Signal: 9}}, "process", nil, nil, a)
	failed := NewInstrumentedSandbox(&mockSandbox{result: &sandbox.ExecutionResult{ExitCode: 13}}, "process", nil, nil, a)

	for range 3 {
		failed.Execute(context.Background(), sandbox.ExecutionRequest{})
	}
	if a.Anomalies() != 0 {
		t.Fatal("non-zero exits are program failures")
	}
	for range 5 {
		crashed.Execute(context.Background(), sandbox.ExecutionRequest{})
	}
	if failures, total := a.Rate("sandbox_process"); failures != 5 || total != 8 {
		t.Errorf("rate = %d/%d, want 5/8", failures, total)
	}
	if a.Anomalies() != 1 {
		t.Errorf("anomalies = %d, want 1", a.Anomalies())
	}
}

// --- HTTP Middleware ---

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetricsCollector()

	handler := HTTPMetricsMiddleware(metrics, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}

	val := counterValue(t, metrics.Registry, "executor_http_requests_total", prometheus.Labels{"method": "GET", "path": "/test", "status_code": "200"})
	if val != 1 {
		t.Errorf("http requests = %v, want 1", val)
	}
}

func TestHTTPMetricsMiddleware_NilMetrics(t *testing.T) {
	// Should not panic with nil metrics.
	handler := HTTPMetricsMiddleware(nil, nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

// --- Helpers ---

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels prometheus.Labels) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather error: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			lm := labelMap(metric.GetLabel())
			match := true
			for k, v := range labels {
				if lm[k] != v {
					match = false
					break
				}
			}
			if match {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}
