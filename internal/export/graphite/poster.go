// Package graphite writes data points to a Graphite carbon listener using
// the plaintext protocol.
package graphite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/marpaia/graphite-golang"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/export"
)

// Config configures the Graphite poster.
type Config struct {
	// Host is the carbon listener host.
	Host string `yaml:"host"`

	// Port is the carbon listener port. Defaults to 2003.
	Port int `yaml:"port"`

	// Protocol is tcp or udp. Defaults to tcp.
	Protocol string `yaml:"protocol"`

	// Prefix is prepended to every metric path.
	Prefix string `yaml:"prefix"`

	// Timeout bounds connection establishment. Defaults to 5s.
	Timeout time.Duration `yaml:"timeout"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 2003
	}

	if c.Protocol == "" {
		c.Protocol = "tcp"
	}

	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("graphite host is required")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("graphite port %d out of range", c.Port)
	}

	if c.Protocol != "tcp" && c.Protocol != "udp" {
		return fmt.Errorf("graphite protocol must be tcp or udp, got %q", c.Protocol)
	}

	return nil
}

// Poster implements export.Poster for Graphite. Instance-scoped points
// are written under "<instance>.<name>".
type Poster struct {
	log logrus.FieldLogger
	cfg Config

	mu sync.Mutex
	g  *graphite.Graphite
}

var _ export.Poster = (*Poster)(nil)

// New creates a Graphite poster and connects to the listener.
func New(log logrus.FieldLogger, cfg Config) (*Poster, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	g := &graphite.Graphite{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Protocol: cfg.Protocol,
		Timeout:  cfg.Timeout,
		Prefix:   cfg.Prefix,
	}

	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to graphite %s:%d: %w", cfg.Host, cfg.Port, err)
	}

	return &Poster{
		log: log.WithField("component", "graphite_poster"),
		cfg: cfg,
		g:   g,
	}, nil
}

// Name implements export.Poster.
func (p *Poster) Name() string {
	return "graphite"
}

// SendMetricDataPoint implements export.Poster.
func (p *Poster) SendMetricDataPoint(
	_ context.Context,
	name string,
	value float64,
	ts time.Time,
) error {
	return p.send(name, value, ts)
}

// SendInstanceMetricDataPoint implements export.Poster.
func (p *Poster) SendInstanceMetricDataPoint(
	_ context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	return p.send(instanceID+"."+name, value, ts)
}

func (p *Poster) send(path string, value float64, ts time.Time) error {
	m := graphite.NewMetric(path, strconv.FormatFloat(value, 'f', -1, 64), ts.Unix())

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.g.SendMetric(m); err != nil {
		// Reconnect so the next batch starts on a fresh connection.
		if cerr := p.g.Connect(); cerr != nil {
			p.log.WithError(cerr).Debug("Graphite reconnect failed")
		}

		return fmt.Errorf("sending metric %s: %w", path, err)
	}

	return nil
}

// Close disconnects from the listener.
func (p *Poster) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.g.Disconnect()
}
