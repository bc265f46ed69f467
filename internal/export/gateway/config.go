package gateway

import (
	"errors"
	"time"

	"github.com/ethpandaops/relayoor/internal/compress"
)

// DefaultAddress is the public custom-metrics gateway endpoint.
const DefaultAddress = "https://custom-gateway.stackdriver.com/v1/custom"

// Config configures the custom-metrics gateway poster.
type Config struct {
	// Address is the gateway endpoint data points are POSTed to.
	// Defaults to DefaultAddress.
	Address string `yaml:"address"`

	// APIKey authenticates every request.
	APIKey string `yaml:"api_key"`

	// Headers are additional HTTP headers to include in requests.
	Headers map[string]string `yaml:"headers"`

	// Compression specifies the request body compression.
	// Valid values: none, gzip, zstd, zlib, snappy.
	// Defaults to none.
	Compression string `yaml:"compression"`

	// Timeout bounds a single request.
	// Defaults to 10s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of additional attempts after a transport
	// error or a 5xx response. Defaults to 0.
	MaxRetries int `yaml:"max_retries"`

	// RetryWait is the pause between attempts.
	// Defaults to 1s.
	RetryWait time.Duration `yaml:"retry_wait"`

	// KeepAlive enables HTTP keep-alive connections.
	// Defaults to true.
	KeepAlive *bool `yaml:"keep_alive"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	keepAlive := true

	return Config{
		Address:     DefaultAddress,
		Compression: compress.None,
		Timeout:     10 * time.Second,
		RetryWait:   time.Second,
		KeepAlive:   &keepAlive,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Address == "" {
		return errors.New("gateway address is required")
	}

	if c.APIKey == "" {
		return errors.New("gateway api_key is required")
	}

	if c.MaxRetries < 0 {
		return errors.New("max_retries cannot be negative")
	}

	if !compress.Valid(c.Compression) {
		return errors.New("invalid compression type: " + c.Compression)
	}

	return nil
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.Address == "" {
		c.Address = defaults.Address
	}

	if c.Compression == "" {
		c.Compression = defaults.Compression
	}

	if c.Timeout <= 0 {
		c.Timeout = defaults.Timeout
	}

	if c.RetryWait <= 0 {
		c.RetryWait = defaults.RetryWait
	}

	if c.KeepAlive == nil {
		c.KeepAlive = defaults.KeepAlive
	}
}

// IsKeepAlive returns whether HTTP keep-alive is enabled.
func (c *Config) IsKeepAlive() bool {
	if c.KeepAlive == nil {
		return true
	}

	return *c.KeepAlive
}
