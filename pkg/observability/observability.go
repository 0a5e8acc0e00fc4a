// Package observability provides OpenTelemetry metrics for the inventory
// sync service: run throughput, run duration, and worker error counters,
// exported over OTLP when an endpoint is configured.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Config configures the OpenTelemetry provider.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g., "localhost:4317" for gRPC
	Enabled        bool
	Insecure       bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "relay-inventory",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		Enabled:        false,
		Insecure:       true,
	}
}

// Provider manages the OpenTelemetry meter provider and the service's
// instruments. A disabled provider records nothing and is safe to share.
type Provider struct {
	config        *Config
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	logger        *slog.Logger

	runsStarted  metric.Int64Counter
	runsFailed   metric.Int64Counter
	runDuration  metric.Float64Histogram
	workerErrors metric.Int64Counter
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(30*time.Second),
		)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("relay-inventory",
		metric.WithInstrumentationVersion(config.ServiceVersion),
	)

	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "observability initialized",
		"service", config.ServiceName,
		"environment", config.Environment,
		"endpoint", config.OTLPEndpoint,
	)
	return p, nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.runsStarted, err = p.meter.Int64Counter("relay.runs.started",
		metric.WithDescription("Inventory sync runs started"),
	)
	if err != nil {
		return err
	}
	p.runsFailed, err = p.meter.Int64Counter("relay.runs.failed",
		metric.WithDescription("Inventory sync runs that reached FAILED"),
	)
	if err != nil {
		return err
	}
	p.runDuration, err = p.meter.Float64Histogram("relay.run.duration",
		metric.WithDescription("Run duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}
	p.workerErrors, err = p.meter.Int64Counter("relay.worker.errors",
		metric.WithDescription("Worker infrastructure errors"),
	)
	return err
}

// RunStarted records one run claim.
func (p *Provider) RunStarted(ctx context.Context, tenantID string) {
	if p.runsStarted == nil {
		return
	}
	p.runsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("tenant_id", tenantID)))
}

// RunFinished records a terminal run outcome and its duration.
func (p *Provider) RunFinished(ctx context.Context, tenantID string, failed bool, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("tenant_id", tenantID))
	if p.runDuration != nil {
		p.runDuration.Record(ctx, duration.Seconds(), attrs)
	}
	if failed && p.runsFailed != nil {
		p.runsFailed.Add(ctx, 1, attrs)
	}
}

// WorkerError records one infrastructure fault by type.
func (p *Provider) WorkerError(ctx context.Context, errorType string) {
	if p.workerErrors == nil {
		return
	}
	p.workerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("error_type", errorType)))
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.meterProvider == nil {
		return nil
	}
	return p.meterProvider.Shutdown(ctx)
}
