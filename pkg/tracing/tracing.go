package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/psantana5/kappa-rpc/pkg/logging"
)

// Config holds the tracing configuration
type Config struct {
	ServiceName    string `mapstructure:"service_name" yaml:"service_name"`
	ServiceVersion string `mapstructure:"service_version" yaml:"service_version"`
	Environment    string `mapstructure:"environment" yaml:"environment"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"` // host:port of an OTLP HTTP collector
	Enabled        bool   `mapstructure:"enabled" yaml:"enabled"`
}

// Provider wraps the OpenTelemetry trace provider
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// InitTracer initializes OpenTelemetry tracing. When disabled, spans are
// still created (so handlers need no nil checks) but never exported unless
// extra provider options add a processor.
func InitTracer(cfg Config, logger *logging.Logger, opts ...sdktrace.TracerProviderOption) (*Provider, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kapparpc"
	}

	if !cfg.Enabled {
		logger.Debug("Tracing disabled")
		tp := sdktrace.NewTracerProvider(opts...)
		return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
	}

	logger.Info("Initializing OpenTelemetry tracing", map[string]interface{}{
		"service":  cfg.ServiceName,
		"endpoint": cfg.OTLPEndpoint,
	})

	exporter, err := otlptracehttp.New(
		context.Background(),
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts = append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}, opts...)
	tp := sdktrace.NewTracerProvider(opts...)

	// The orchestrator resolves its tracer from the global provider
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	logger.Info("OpenTelemetry tracing initialized")

	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

// Shutdown flushes and stops the tracer provider
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the tracer instance
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// AddEvent adds an event to the current span
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}
