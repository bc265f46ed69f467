// Package otlp exports each data point as a single-point gauge over
// OTLP/gRPC.
package otlp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/ethpandaops/relayoor/internal/export"
)

const scopeName = "github.com/ethpandaops/relayoor"

// Config configures the OTLP poster.
type Config struct {
	// Endpoint is the gRPC OTLP endpoint (e.g. "otel-collector:4317").
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the gRPC connection.
	Insecure bool `yaml:"insecure"`

	// Headers are sent as gRPC metadata with every export.
	Headers map[string]string `yaml:"headers"`

	// Timeout bounds a single export. Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Defaults to "relayoor".
	ServiceName string `yaml:"service_name"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}

	if c.ServiceName == "" {
		c.ServiceName = "relayoor"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("otlp endpoint is required")
	}

	return nil
}

// Poster implements export.Poster over OTLP/gRPC. Instance-scoped
// points carry the service.instance.id attribute.
type Poster struct {
	log      logrus.FieldLogger
	exporter *otlpmetricgrpc.Exporter
	res      *resource.Resource
}

var _ export.Poster = (*Poster)(nil)

// New creates an OTLP poster. The gRPC connection is established lazily.
func New(ctx context.Context, log logrus.FieldLogger, cfg Config) (*Poster, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
		otlpmetricgrpc.WithTimeout(cfg.Timeout),
	}

	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	if len(cfg.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP resource: %w", err)
	}

	return &Poster{
		log:      log.WithField("component", "otlp_poster"),
		exporter: exporter,
		res:      res,
	}, nil
}

// Name implements export.Poster.
func (p *Poster) Name() string {
	return "otlp"
}

// SendMetricDataPoint implements export.Poster.
func (p *Poster) SendMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
) error {
	return p.send(ctx, name, value, ts, *attribute.EmptySet())
}

// SendInstanceMetricDataPoint implements export.Poster.
func (p *Poster) SendInstanceMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	return p.send(ctx, name, value, ts, attribute.NewSet(semconv.ServiceInstanceID(instanceID)))
}

func (p *Poster) send(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
	attrs attribute.Set,
) error {
	rm := &metricdata.ResourceMetrics{
		Resource: p.res,
		ScopeMetrics: []metricdata.ScopeMetrics{{
			Scope: instrumentation.Scope{Name: scopeName},
			Metrics: []metricdata.Metrics{{
				Name: name,
				Data: metricdata.Gauge[float64]{
					DataPoints: []metricdata.DataPoint[float64]{{
						Attributes: attrs,
						Time:       ts,
						Value:      value,
					}},
				},
			}},
		}},
	}

	if err := p.exporter.Export(ctx, rm); err != nil {
		return fmt.Errorf("exporting %s: %w", name, err)
	}

	return nil
}

// Close shuts down the exporter and its gRPC connection.
func (p *Poster) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.exporter.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down OTLP exporter: %w", err)
	}

	return nil
}
