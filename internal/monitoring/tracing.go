package monitoring

import (
	"context"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName = "odm"

	SpanNameHTTPRequest     = "http_request"
	SpanNameCommit          = "commit"
	SpanNameBackendDispatch = "backend_dispatch"
	SpanNameSignalDispatch  = "signal_dispatch"
)

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Environment  string
	SamplingRate float64
}

// TracingProvider manages OpenTelemetry tracing setup and lifecycle.
type TracingProvider struct {
	config     *TracingConfig
	tracer     trace.Tracer
	provider   *sdktrace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracingProvider creates a new tracing provider. With config.Enabled
// false, it returns a provider wrapping the global no-op tracer so
// every span-starting method remains safe to call unconditionally.
func NewTracingProvider(config *TracingConfig) (*TracingProvider, error) {
	if !config.Enabled {
		return &TracingProvider{
			config: config,
			tracer: otel.Tracer(config.ServiceName),
		}, nil
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(config.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
			semconv.DeploymentEnvironmentKey.String(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var sampler sdktrace.Sampler
	switch {
	case config.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case config.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(config.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(provider)

	propagator := propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
	otel.SetTextMapPropagator(propagator)

	tracer := provider.Tracer(config.ServiceName)

	return &TracingProvider{
		config:     config,
		tracer:     tracer,
		provider:   provider,
		propagator: propagator,
	}, nil
}

func (tp *TracingProvider) Tracer() trace.Tracer { return tp.tracer }

func (tp *TracingProvider) Propagator() propagation.TextMapPropagator { return tp.propagator }

// Shutdown gracefully shuts down the tracing provider.
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if tp.provider != nil {
		return tp.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span with the provider's common attributes.
func (tp *TracingProvider) StartSpan(ctx context.Context, operationName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	spanOpts := []trace.SpanStartOption{
		trace.WithAttributes(
			attribute.String("service.name", tp.config.ServiceName),
		),
	}
	spanOpts = append(spanOpts, opts...)
	return tp.tracer.Start(ctx, operationName, spanOpts...)
}

// HTTPMiddleware provides HTTP request tracing.
func (tp *TracingProvider) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tp.config.Enabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := tp.propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		spanCtx, span := tp.StartSpan(ctx, SpanNameHTTPRequest,
			trace.WithAttributes(
				semconv.HTTPMethodKey.String(r.Method),
				semconv.HTTPURLKey.String(r.URL.String()),
				semconv.HTTPTargetKey.String(r.URL.Path),
			),
			trace.WithSpanKind(trace.SpanKindServer),
		)
		defer span.End()

		wrapped := &tracingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		r = r.WithContext(spanCtx)
		next.ServeHTTP(wrapped, r)

		span.SetAttributes(semconv.HTTPStatusCodeKey.Int(wrapped.statusCode))
		if wrapped.statusCode >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapped.statusCode))
		}
	})
}

type tracingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *tracingResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// CommitSpan creates a span for one transaction commit.
func (tp *TracingProvider) CommitSpan(ctx context.Context, modelCount int) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, SpanNameCommit,
		trace.WithAttributes(
			attribute.Int("odm.model_count", modelCount),
			attribute.String("component", "transaction"),
		),
	)
}

// BackendDispatchSpan creates a span for one backend's dispatch call
// within a commit.
func (tp *TracingProvider) BackendDispatchSpan(ctx context.Context, backendName string) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, SpanNameBackendDispatch,
		trace.WithAttributes(
			attribute.String("odm.backend", backendName),
			attribute.String("component", "backend_adapter"),
		),
	)
}

// SignalDispatchSpan creates a span for one signal's subscriber fan-out.
func (tp *TracingProvider) SignalDispatchSpan(ctx context.Context, signal string) (context.Context, trace.Span) {
	return tp.StartSpan(ctx, SpanNameSignalDispatch,
		trace.WithAttributes(
			attribute.String("odm.signal", signal),
			attribute.String("component", "signal_hub"),
		),
	)
}

// AddSpanEvent adds an event to the current span.
func (tp *TracingProvider) AddSpanEvent(ctx context.Context, name string, attributes ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.AddEvent(name, trace.WithAttributes(attributes...))
	}
}

// AddSpanAttributes adds attributes to the current span.
func (tp *TracingProvider) AddSpanAttributes(ctx context.Context, attributes ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.SetAttributes(attributes...)
	}
}

// SetSpanError marks the current span as an error.
func (tp *TracingProvider) SetSpanError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if span != nil {
		span.SetAttributes(attribute.Bool("error", true))
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	}
}

// DefaultTracingConfig returns default tracing configuration.
func DefaultTracingConfig() *TracingConfig {
	return &TracingConfig{
		Enabled:      true,
		OTLPEndpoint: "http://localhost:4318/v1/traces",
		ServiceName:  ServiceName,
		Environment:  "development",
		SamplingRate: 0.1,
	}
}

// ProductionTracingConfig returns production-ready tracing
// configuration.
func ProductionTracingConfig() *TracingConfig {
	return &TracingConfig{
		Enabled:      true,
		OTLPEndpoint: "http://otel-collector:4318/v1/traces",
		ServiceName:  ServiceName,
		Environment:  "production",
		SamplingRate: 0.01,
	}
}
