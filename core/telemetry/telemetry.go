package telemetry

import (
	"context"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service (e.g., "ebox").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production").
	Environment string

	// OTLPEndpoint is the OTLP exporter endpoint for traces.
	// Leave empty to disable trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	// Enabled determines if telemetry is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "ebox",
		ServiceVersion: "dev",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages OpenTelemetry tracer and meter providers.
// A disabled Provider is safe to use; every recording method is a no-op.
type Provider struct {
	config         Config
	registry       *promclient.Registry
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	issuedCounter  metric.Int64Counter
	verifyCounter  metric.Int64Counter
	deviceCounter  metric.Int64Counter
	verifyDuration metric.Float64Histogram
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg, registry: promclient.NewRegistry()}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	if p.config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SamplingRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)

	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.meter = p.meterProvider.Meter(p.config.ServiceName)

	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.issuedCounter, err = p.meter.Int64Counter(
		"ebox.pickup.token.issued",
		metric.WithDescription("Total number of pickup tokens issued"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.verifyCounter, err = p.meter.Int64Counter(
		"ebox.pickup.token.verified",
		metric.WithDescription("Total number of pickup token verifications by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.deviceCounter, err = p.meter.Int64Counter(
		"ebox.device.auth",
		metric.WithDescription("Total number of handoff device authentications by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.verifyDuration, err = p.meter.Float64Histogram(
		"ebox.pickup.verify.duration",
		metric.WithDescription("Pickup token verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// MetricsHandler serves the Prometheus exposition of the provider's metrics.
func (p *Provider) MetricsHandler() http.Handler {
	if p.registry == nil {
		return promhttp.HandlerFor(promclient.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordIssued records a pickup token issuance attempt.
func (p *Provider) RecordIssued(ctx context.Context, success bool) {
	if p == nil || p.issuedCounter == nil {
		return
	}
	p.issuedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status(success))),
	)
}

// RecordVerification records a verification outcome. reason is empty on acceptance.
func (p *Provider) RecordVerification(ctx context.Context, accepted bool, reason string, duration time.Duration) {
	if p == nil || p.verifyCounter == nil {
		return
	}
	p.verifyCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status(accepted)),
			attribute.String("reason", reason),
		),
	)
	p.verifyDuration.Record(ctx, duration.Seconds())
}

// RecordDeviceAuth records a handoff device authentication.
func (p *Provider) RecordDeviceAuth(ctx context.Context, success bool) {
	if p == nil || p.deviceCounter == nil {
		return
	}
	p.deviceCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status(success))),
	)
}

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
