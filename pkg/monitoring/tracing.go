package monitoring

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/amz-sunilvbs/aws-healthscribe-demo/pkg/config"
)

// TracingManager handles distributed tracing
type TracingManager struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewTracingManager creates a tracing manager on the global TracerProvider.
// Until InstallTracing runs the spans it starts are no-ops.
func NewTracingManager(serviceName, serviceVersion string) *TracingManager {
	return NewTracingManagerWithProvider(otel.GetTracerProvider(), serviceName, serviceVersion)
}

// NewTracingManagerWithProvider creates a tracing manager on provider
func NewTracingManagerWithProvider(provider trace.TracerProvider, serviceName, serviceVersion string) *TracingManager {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingManager{
		tracer:     provider.Tracer(serviceName, trace.WithInstrumentationVersion(serviceVersion)),
		propagator: otel.GetTextMapPropagator(),
	}
}

// InstallTracing builds a TracerProvider for cfg and installs it globally.
// The returned function flushes pending spans and stops the exporter.
func InstallTracing(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (func(context.Context) error, error) {
	exporter, err := newSpanExporter(ctx, cfg, os.Stdout)
	if err != nil {
		return nil, err
	}

	tp := NewTracerProvider(exporter, cfg, serviceName, serviceVersion)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// NewTracerProvider batches spans to exporter, sampling cfg.SampleRatio of
// new traces and following the parent's decision otherwise
func NewTracerProvider(exporter sdktrace.SpanExporter, cfg config.TracingConfig, serviceName, serviceVersion string) *sdktrace.TracerProvider {
	res := resource.NewWithAttributes(semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
}

func newSpanExporter(ctx context.Context, cfg config.TracingConfig, out io.Writer) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout span exporter: %w", err)
		}
		return exp, nil
	case "otlp", "":
		var opts []otlptracehttp.Option
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpointURL(cfg.Endpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP span exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unknown span exporter %q", cfg.Exporter)
	}
}

// StartSpan starts a new span
func (tm *TracingManager) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// StartHTTPSpan starts a span for HTTP requests
func (tm *TracingManager) StartHTTPSpan(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, fmt.Sprintf("%s %s", method, route),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", route),
		),
	)
}

// StartStoreSpan starts a span for key-value store operations
func (tm *TracingManager) StartStoreSpan(ctx context.Context, operation, table string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, fmt.Sprintf("dynamodb.%s", operation),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "dynamodb"),
			attribute.String("db.operation", operation),
			attribute.String("aws.dynamodb.table_names", table),
		),
	)
}

// StartPHISpan starts a span for PHI operations
func (tm *TracingManager) StartPHISpan(ctx context.Context, operation, resourceType string) (context.Context, trace.Span) {
	return tm.tracer.Start(ctx, fmt.Sprintf("phi.%s", operation),
		trace.WithAttributes(
			attribute.String("phi.operation", operation),
			attribute.String("phi.resource_type", resourceType),
			attribute.Bool("phi.sensitive", true),
		),
	)
}

// RecordError records an error in the span
func (tm *TracingManager) RecordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// ExtractTraceContext extracts trace context from HTTP headers
func (tm *TracingManager) ExtractTraceContext(ctx context.Context, headers http.Header) context.Context {
	return tm.propagator.Extract(ctx, propagation.HeaderCarrier(headers))
}

// InjectTraceContext injects trace context into HTTP headers
func (tm *TracingManager) InjectTraceContext(ctx context.Context, headers http.Header) {
	tm.propagator.Inject(ctx, propagation.HeaderCarrier(headers))
}

// TraceIDFromContext extracts trace ID from context
func (tm *TracingManager) TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}
