package agent

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ethpandaops/relayoor/internal/export"
	"github.com/ethpandaops/relayoor/internal/export/clickhouse"
	"github.com/ethpandaops/relayoor/internal/export/dogstatsd"
	"github.com/ethpandaops/relayoor/internal/export/gateway"
	"github.com/ethpandaops/relayoor/internal/export/graphite"
	"github.com/ethpandaops/relayoor/internal/export/otlp"
	"github.com/ethpandaops/relayoor/internal/ingest"
)

// Backend names accepted by Config.Backend.
const (
	BackendGateway    = "gateway"
	BackendGraphite   = "graphite"
	BackendDogStatsD  = "dogstatsd"
	BackendOTLP       = "otlp"
	BackendClickHouse = "clickhouse"
)

// NamingConfig configures the default naming convention.
type NamingConfig struct {
	// Prefix is prepended to every published name.
	Prefix string `yaml:"prefix"`
}

// Config is the top-level configuration for the relayoor agent.
type Config struct {
	// LogLevel sets the logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// InstanceID scopes every data point to one source instance.
	// Empty publishes globally.
	InstanceID string `yaml:"instance_id"`

	// Naming configures how samples map to published names.
	Naming NamingConfig `yaml:"naming"`

	// Backend selects the data point destination.
	// Defaults to "gateway".
	Backend string `yaml:"backend"`

	Gateway    gateway.Config    `yaml:"gateway"`
	Graphite   graphite.Config   `yaml:"graphite"`
	DogStatsD  dogstatsd.Config  `yaml:"dogstatsd"`
	OTLP       otlp.Config       `yaml:"otlp"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`

	// Ingest configures the HTTP batch delivery server.
	Ingest ingest.Config `yaml:"ingest"`

	// Health configures the Prometheus health metrics server.
	Health export.HealthConfig `yaml:"health"`

	// ShutdownTimeout bounds draining in-flight batches on stop.
	// Defaults to 30s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:        "info",
		Backend:         BackendGateway,
		Gateway:         gateway.DefaultConfig(),
		ShutdownTimeout: 30 * time.Second,
		Ingest: ingest.Config{
			Addr: ":8080",
		},
		Health: export.HealthConfig{
			Addr: ":9090",
		},
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	cfg := DefaultConfig()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for required fields and consistency.
// Defaults are applied to the selected backend before it is checked.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGateway:
		c.Gateway.ApplyDefaults()

		if err := c.Gateway.Validate(); err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	case BackendGraphite:
		c.Graphite.ApplyDefaults()

		if err := c.Graphite.Validate(); err != nil {
			return fmt.Errorf("graphite: %w", err)
		}
	case BackendDogStatsD:
		c.DogStatsD.ApplyDefaults()
	case BackendOTLP:
		c.OTLP.ApplyDefaults()

		if err := c.OTLP.Validate(); err != nil {
			return fmt.Errorf("otlp: %w", err)
		}
	case BackendClickHouse:
		c.ClickHouse.ApplyDefaults()

		if err := c.ClickHouse.Validate(); err != nil {
			return fmt.Errorf("clickhouse: %w", err)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}
