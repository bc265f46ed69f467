// Package clickhouse stores each data point as a row in ClickHouse.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/export"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config configures the ClickHouse poster.
type Config struct {
	// Endpoint is the ClickHouse native protocol address.
	Endpoint string `yaml:"endpoint"`

	// Database is the target database name. Defaults to "default".
	Database string `yaml:"database"`

	// Table is the target table name. Defaults to "data_points".
	Table string `yaml:"table"`

	// Username for ClickHouse authentication.
	Username string `yaml:"username"`

	// Password for ClickHouse authentication.
	Password string `yaml:"password"`

	// DialTimeout bounds connection establishment. Defaults to 5s.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Database == "" {
		c.Database = "default"
	}

	if c.Table == "" {
		c.Table = "data_points"
	}

	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("clickhouse endpoint is required")
	}

	if !identifier.MatchString(c.Database) {
		return fmt.Errorf("invalid clickhouse database name %q", c.Database)
	}

	if !identifier.MatchString(c.Table) {
		return fmt.Errorf("invalid clickhouse table name %q", c.Table)
	}

	return nil
}

// DSN returns the clickhouse:// URL used for schema migrations.
func (c *Config) DSN() string {
	u := url.URL{
		Scheme: "clickhouse",
		Host:   c.Endpoint,
		Path:   "/" + c.Database,
	}

	if c.Username != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}

	return u.String()
}

// Poster implements export.Poster by inserting one row per data point.
// Global points are stored with an empty instance_id.
type Poster struct {
	log   logrus.FieldLogger
	cfg   Config
	conn  clickhouse.Conn
	query string
}

var _ export.Poster = (*Poster)(nil)

// New opens a ClickHouse connection and verifies it with a ping.
func New(ctx context.Context, log logrus.FieldLogger, cfg Config) (*Poster, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &clickhouse.Options{
		Addr: []string{cfg.Endpoint},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening ClickHouse connection: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("pinging ClickHouse: %w", err)
	}

	p := newPoster(log, cfg, conn)

	p.log.WithField("endpoint", cfg.Endpoint).
		Info("ClickHouse poster connected")

	return p, nil
}

func newPoster(log logrus.FieldLogger, cfg Config, conn clickhouse.Conn) *Poster {
	return &Poster{
		log:   log.WithField("component", "clickhouse_poster"),
		cfg:   cfg,
		conn:  conn,
		query: insertQuery(cfg.Database, cfg.Table),
	}
}

func insertQuery(database, table string) string {
	return fmt.Sprintf(
		"INSERT INTO %s.%s (name, value, timestamp, instance_id)",
		database, table,
	)
}

// Name implements export.Poster.
func (p *Poster) Name() string {
	return "clickhouse"
}

// SendMetricDataPoint implements export.Poster.
func (p *Poster) SendMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
) error {
	return p.insert(ctx, name, value, ts, "")
}

// SendInstanceMetricDataPoint implements export.Poster.
func (p *Poster) SendInstanceMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	return p.insert(ctx, name, value, ts, instanceID)
}

func (p *Poster) insert(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	// Native batch encoding keeps the millisecond part of DateTime64.
	batch, err := p.conn.PrepareBatch(ctx, p.query)
	if err != nil {
		return fmt.Errorf("preparing insert for %s: %w", name, err)
	}

	if err := batch.Append(name, value, ts, instanceID); err != nil {
		if aerr := batch.Abort(); aerr != nil {
			p.log.WithError(aerr).Debug("Aborting ClickHouse batch failed")
		}

		return fmt.Errorf("appending %s: %w", name, err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("inserting %s: %w", name, err)
	}

	return nil
}

// Close closes the ClickHouse connection.
func (p *Poster) Close() error {
	if p.conn != nil {
		return p.conn.Close()
	}

	return nil
}
