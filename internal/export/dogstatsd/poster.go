// Package dogstatsd sends data points as timestamped DogStatsD gauges.
package dogstatsd

import (
	"context"
	"fmt"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/export"
)

// InstanceTag is the tag key carrying the instance identifier.
const InstanceTag = "instance"

// Config configures the DogStatsD poster.
type Config struct {
	// Addr is the agent address, host:port or unix:///path.
	// Defaults to "127.0.0.1:8125".
	Addr string `yaml:"addr"`

	// Namespace is prepended to every metric name.
	Namespace string `yaml:"namespace"`

	// Tags are added to every data point.
	Tags []string `yaml:"tags"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8125"
	}
}

// Poster implements export.Poster over DogStatsD. Instance-scoped points
// carry an "instance:<id>" tag.
type Poster struct {
	log    logrus.FieldLogger
	client statsd.ClientInterface
}

var _ export.Poster = (*Poster)(nil)

// New creates a DogStatsD poster.
func New(log logrus.FieldLogger, cfg Config) (*Poster, error) {
	cfg.ApplyDefaults()

	opts := []statsd.Option{
		statsd.WithoutTelemetry(),
		statsd.WithoutClientSideAggregation(),
	}

	if cfg.Namespace != "" {
		opts = append(opts, statsd.WithNamespace(cfg.Namespace))
	}

	if len(cfg.Tags) > 0 {
		opts = append(opts, statsd.WithTags(cfg.Tags))
	}

	client, err := statsd.New(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating statsd client for %s: %w", cfg.Addr, err)
	}

	return &Poster{
		log:    log.WithField("component", "dogstatsd_poster"),
		client: client,
	}, nil
}

// Name implements export.Poster.
func (p *Poster) Name() string {
	return "dogstatsd"
}

// SendMetricDataPoint implements export.Poster.
func (p *Poster) SendMetricDataPoint(
	_ context.Context,
	name string,
	value float64,
	ts time.Time,
) error {
	return p.send(name, value, nil, ts)
}

// SendInstanceMetricDataPoint implements export.Poster.
func (p *Poster) SendInstanceMetricDataPoint(
	_ context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	return p.send(name, value, []string{InstanceTag + ":" + instanceID}, ts)
}

func (p *Poster) send(name string, value float64, tags []string, ts time.Time) error {
	if err := p.client.GaugeWithTimestamp(name, value, tags, 1, ts); err != nil {
		return fmt.Errorf("sending gauge %s: %w", name, err)
	}

	return nil
}

// Close flushes buffered gauges and closes the client.
func (p *Poster) Close() error {
	if err := p.client.Flush(); err != nil {
		p.log.WithError(err).Debug("Flushing statsd client failed")
	}

	return p.client.Close()
}
