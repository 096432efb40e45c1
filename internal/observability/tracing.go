package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/graphery/executor/internal/config"
)

const (
	defaultServiceName  = "graphery-executor"
	instrumentationName = "github.com/graphery/executor"
)

// BuildInfo describes the running binary. It ends up on every exported span.
type BuildInfo struct {
	Version  string
	Protocol string
}

// TracerSetup owns the span pipeline of one process. The provider is never
// installed globally; components receive the tracer explicitly.
type TracerSetup struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracerSetup builds a provider exporting controller spans over OTLP.
// It returns nil when tracing is disabled.
func NewTracerSetup(cfg *config.TracingConfig, build BuildInfo) (*TracerSetup, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}
	ctx := context.Background()

	exporter, err := newSpanExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}
	return newTracerSetup(exporter, spanResource(cfg, build), cfg.SampleRate), nil
}

func newTracerSetup(exporter sdktrace.SpanExporter, res *resource.Resource, sampleRate float64) *TracerSetup {
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		// a run started inside a traced HTTP request follows that decision
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	return &TracerSetup{
		provider: tp,
		tracer:   tp.Tracer(instrumentationName),
	}
}

func spanResource(cfg *config.TracingConfig, build BuildInfo) *resource.Resource {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{semconv.ServiceName(name)}
	if build.Version != "" {
		attrs = append(attrs, semconv.ServiceVersion(build.Version))
	}
	if build.Protocol != "" {
		attrs = append(attrs, attribute.String("executor.protocol_version", build.Protocol))
	}
	return resource.NewWithAttributes(semconv.SchemaURL, attrs...)
}

func newSpanExporter(ctx context.Context, cfg *config.TracingConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

// Tracer returns the tracer handed to the controller. A nil setup yields a
// no-op tracer.
func (t *TracerSetup) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer("")
	}
	return t.tracer
}

// Shutdown flushes pending spans.
func (t *TracerSetup) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	if err := t.provider.ForceFlush(ctx); err != nil {
		return fmt.Errorf("flushing spans: %w", err)
	}
	return t.provider.Shutdown(ctx)
}
