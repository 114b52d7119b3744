// Package observability provides OpenTelemetry tracing, Prometheus metrics
// and the run audit log for graphsight.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name used for the graphsight tracer.
	TracerName = "github.com/efebarandurmaz/graphsight"
)

// TracingConfig configures the OpenTelemetry tracing.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	// Tracing is a no-op when it is empty.
	OTLPEndpoint string
	// Insecure disables TLS towards the collector.
	Insecure bool
	// SampleRate is the fraction of runs traced, clamped to [0, 1].
	SampleRate float64
}

// DefaultTracingConfig returns a default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		ServiceName:    "graphsight",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		SampleRate:     1.0,
	}
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// InitTracing initializes OpenTelemetry tracing.
// Returns a no-op tracer if OTLPEndpoint is empty.
func InitTracing(ctx context.Context, cfg *TracingConfig) (*TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultTracingConfig()
	}

	if cfg.OTLPEndpoint == "" {
		return &TracerProvider{
			tracer: otel.Tracer(TracerName),
		}, nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracerProvider{
		provider: provider,
		tracer:   provider.Tracer(TracerName),
	}, nil
}

// sampler traces every run at rate 1 and above, none at 0 and below, and
// a trace-ID ratio in between.
func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the underlying tracer.
func (tp *TracerProvider) Tracer() trace.Tracer {
	return tp.tracer
}

// SpanKind constants for graphsight operations.
const (
	SpanKindInterpret = "interpret"
	SpanKindStep      = "step"
	SpanKindOracle    = "oracle"
	SpanKindSynth     = "synthesize"
)

// StartInterpretSpan starts the root span of one interpretation run.
func StartInterpretSpan(ctx context.Context, image string, format string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "graphsight.interpret",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("graphsight.span.kind", SpanKindInterpret),
			attribute.String("graphsight.image", image),
			attribute.String("graphsight.format", format),
		),
	)
}

// RecordInterpretResult records the outcome of a run on its root span.
func RecordInterpretResult(span trace.Span, diagramType string, steps, skips, calls int, cost float64, partial bool) {
	span.SetAttributes(
		attribute.String("graphsight.diagram_type", diagramType),
		attribute.Int("graphsight.steps", steps),
		attribute.Int("graphsight.skips", skips),
		attribute.Int("graphsight.oracle_calls", calls),
		attribute.Float64("graphsight.cost_usd", cost),
		attribute.Bool("graphsight.partial", partial),
	)
}

// StartStepSpan starts a span for one traversal iteration.
func StartStepSpan(ctx context.Context, index int, focus string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, fmt.Sprintf("step.%d", index),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("graphsight.span.kind", SpanKindStep),
			attribute.Int("step.index", index),
			attribute.String("step.focus", focus),
		),
	)
}

// RecordStepResult records what a step contributed.
func RecordStepResult(span trace.Span, nodeID string, nodes, edges, next int, skipped, malformed bool) {
	span.SetAttributes(
		attribute.String("step.node_id", nodeID),
		attribute.Int("step.nodes", nodes),
		attribute.Int("step.edges", edges),
		attribute.Int("step.next", next),
		attribute.Bool("step.skipped", skipped),
		attribute.Bool("step.malformed", malformed),
	)
}

// StartOracleSpan starts a span for an oracle call.
func StartOracleSpan(ctx context.Context, op, provider, model string) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "oracle."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("graphsight.span.kind", SpanKindOracle),
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
		),
	)
}

// RecordLLMMetrics records LLM call metrics on a span.
func RecordLLMMetrics(span trace.Span, inputTokens, outputTokens int, duration time.Duration) {
	span.SetAttributes(
		attribute.Int("llm.input_tokens", inputTokens),
		attribute.Int("llm.output_tokens", outputTokens),
		attribute.Int("llm.total_tokens", inputTokens+outputTokens),
		attribute.Int64("llm.duration_ms", duration.Milliseconds()),
	)
}

// StartSynthSpan starts a span for result synthesis.
func StartSynthSpan(ctx context.Context, strategy string, nodes, edges int) (context.Context, trace.Span) {
	tracer := otel.Tracer(TracerName)
	return tracer.Start(ctx, "synthesize."+strategy,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("graphsight.span.kind", SpanKindSynth),
			attribute.Int("synth.nodes", nodes),
			attribute.Int("synth.edges", edges),
		),
	)
}

// RecordSynthResult records whether refinement succeeded.
func RecordSynthResult(span trace.Span, refined, degraded bool) {
	span.SetAttributes(
		attribute.Bool("synth.refined", refined),
		attribute.Bool("synth.degraded", degraded),
	)
	if degraded {
		span.SetStatus(codes.Error, "refinement failed, raw content used")
	}
}

// RecordError records an error on a span.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
