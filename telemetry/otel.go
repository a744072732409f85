package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/itsneelabh/agenttrack/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/itsneelabh/agenttrack"

// Provider implements core.Telemetry with OpenTelemetry.
// Counters are created lazily, one per metric name.
type Provider struct {
	tracer         trace.Tracer
	meter          metric.Meter
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider

	mu       sync.Mutex
	counters map[string]metric.Float64Counter
	logger   core.Logger
	limiter  *RateLimiter
}

// ProviderOption configures a Provider
type ProviderOption func(*providerOptions)

type providerOptions struct {
	processors []sdktrace.SpanProcessor
	readers    []sdkmetric.Reader
	writer     io.Writer
	logger     core.Logger
	global     bool
}

// WithSpanProcessor adds a span processor, e.g. a tracetest.SpanRecorder
func WithSpanProcessor(p sdktrace.SpanProcessor) ProviderOption {
	return func(o *providerOptions) {
		o.processors = append(o.processors, p)
	}
}

// WithMetricReader adds a metric reader, e.g. sdkmetric.NewManualReader()
func WithMetricReader(r sdkmetric.Reader) ProviderOption {
	return func(o *providerOptions) {
		o.readers = append(o.readers, r)
	}
}

// WithWriter sets where the stdout exporter writes; defaults to os.Stdout
func WithWriter(w io.Writer) ProviderOption {
	return func(o *providerOptions) {
		o.writer = w
	}
}

// WithLogger sets the logger used for exporter errors
func WithLogger(logger core.Logger) ProviderOption {
	return func(o *providerOptions) {
		o.logger = logger
	}
}

// WithGlobal installs the providers, a W3C trace context propagator and an
// error handler as the otel globals
func WithGlobal() ProviderOption {
	return func(o *providerOptions) {
		o.global = true
	}
}

// NewProvider creates a provider for cfg. The exporter is chosen by
// cfg.Exporter: "stdout" writes pretty JSON spans, "otlp" sends them over gRPC
// to cfg.Endpoint, and "none" only feeds the configured span processors.
func NewProvider(ctx context.Context, cfg core.TelemetryConfig, serviceName string, opts ...ProviderOption) (*Provider, error) {
	o := &providerOptions{writer: os.Stdout}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = &core.NoOpLogger{}
	}
	if cal, ok := o.logger.(core.ComponentAwareLogger); ok {
		o.logger = cal.WithComponent("framework/telemetry")
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
		attribute.String("service.version", core.Version),
	)

	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}

	switch cfg.Exporter {
	case "", "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(o.writer), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithSyncer(exporter))
	case "otlp":
		grpcOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			grpcOpts = append(grpcOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, grpcOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(exporter))
	case "none":
	default:
		return nil, &core.TrackerError{
			Op:      "telemetry.NewProvider",
			Kind:    "config",
			Message: fmt.Sprintf("unknown exporter: %q", cfg.Exporter),
			Err:     core.ErrInvalidConfiguration,
		}
	}
	for _, p := range o.processors {
		traceOpts = append(traceOpts, sdktrace.WithSpanProcessor(p))
	}
	tp := sdktrace.NewTracerProvider(traceOpts...)

	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range o.readers {
		meterOpts = append(meterOpts, sdkmetric.WithReader(r))
	}
	mp := sdkmetric.NewMeterProvider(meterOpts...)

	p := &Provider{
		tracer:         tp.Tracer(instrumentationName),
		meter:          mp.Meter(instrumentationName),
		tracerProvider: tp,
		meterProvider:  mp,
		counters:       make(map[string]metric.Float64Counter),
		logger:         o.logger,
		limiter:        NewRateLimiter(time.Second),
	}

	if o.global {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		otel.SetErrorHandler(otel.ErrorHandlerFunc(p.handleError))
	}

	return p, nil
}

// StartSpan starts a new telemetry span
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, core.Span) {
	ctx, span := p.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

// RecordMetric adds value to the counter called name
func (p *Provider) RecordMetric(name string, value float64, labels map[string]string) {
	counter, err := p.counter(name)
	if err != nil {
		p.handleError(err)
		return
	}

	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (p *Provider) counter(name string) (metric.Float64Counter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.counters[name]; ok {
		return c, nil
	}
	c, err := p.meter.Float64Counter(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	p.counters[name] = c
	return c, nil
}

// handleError logs telemetry errors, at most one per second
func (p *Provider) handleError(err error) {
	ok, dropped := p.limiter.Allow()
	if !ok {
		return
	}
	fields := map[string]interface{}{
		"error":      err.Error(),
		"error_type": fmt.Sprintf("%T", err),
	}
	if dropped > 0 {
		fields["suppressed"] = dropped
	}
	p.logger.Warn("Telemetry error", fields)
}

// Shutdown flushes and stops the trace and metric providers
func (p *Provider) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.tracerProvider.Shutdown(ctx),
		p.meterProvider.Shutdown(ctx),
	)
}

// otelSpan wraps an OpenTelemetry span to implement core.Span
type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() {
	s.span.End()
}

func (s *otelSpan) SetAttribute(key string, value interface{}) {
	switch v := value.(type) {
	case string:
		s.span.SetAttributes(attribute.String(key, v))
	case int:
		s.span.SetAttributes(attribute.Int(key, v))
	case int64:
		s.span.SetAttributes(attribute.Int64(key, v))
	case uint64:
		if v > math.MaxInt64 {
			s.span.SetAttributes(attribute.String(key, strconv.FormatUint(v, 10)))
			return
		}
		s.span.SetAttributes(attribute.Int64(key, int64(v)))
	case float64:
		s.span.SetAttributes(attribute.Float64(key, v))
	case bool:
		s.span.SetAttributes(attribute.Bool(key, v))
	default:
		s.span.SetAttributes(attribute.String(key, fmt.Sprintf("%v", v)))
	}
}

func (s *otelSpan) RecordError(err error) {
	s.span.RecordError(err)
}
