package agent

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/export"
	"github.com/ethpandaops/relayoor/internal/export/clickhouse"
	"github.com/ethpandaops/relayoor/internal/export/dogstatsd"
	"github.com/ethpandaops/relayoor/internal/export/gateway"
	"github.com/ethpandaops/relayoor/internal/export/graphite"
	"github.com/ethpandaops/relayoor/internal/export/otlp"
	"github.com/ethpandaops/relayoor/internal/ingest"
	"github.com/ethpandaops/relayoor/internal/metric"
	"github.com/ethpandaops/relayoor/internal/naming"
	"github.com/ethpandaops/relayoor/internal/observer"
)

// Agent is the top-level orchestrator for relayoor.
type Agent interface {
	// Start connects the backend and begins accepting batches.
	Start(ctx context.Context) error
	// Stop drains in-flight batches and releases the backend.
	Stop() error
}

type agent struct {
	log    logrus.FieldLogger
	cfg    *Config
	health *export.HealthMetrics
	poster export.Poster
	ingest *ingest.Server
}

// New creates a new Agent.
func New(log logrus.FieldLogger, cfg *Config) (Agent, error) {
	return &agent{
		log:    log.WithField("component", "agent"),
		cfg:    cfg,
		health: export.NewHealthMetrics(log, cfg.Health),
	}, nil
}

func (a *agent) Start(ctx context.Context) error {
	// 1. Start health metrics server.
	if err := a.health.Start(ctx); err != nil {
		return fmt.Errorf("starting health metrics: %w", err)
	}

	// 2. Connect the backend.
	poster, err := NewPoster(ctx, a.log, a.cfg)
	if err != nil {
		return fmt.Errorf("creating %s poster: %w", a.cfg.Backend, err)
	}

	a.poster = poster

	a.log.WithFields(logrus.Fields{
		"backend":     poster.Name(),
		"instance_id": a.cfg.InstanceID,
	}).Info("Backend ready")

	// 3. Build the relay and expose it over HTTP.
	obs, err := NewObserver(a.log, a.cfg, poster, a.health)
	if err != nil {
		return fmt.Errorf("creating observer: %w", err)
	}

	a.ingest = ingest.New(a.log, a.cfg.Ingest, obs, a.health)

	if err := a.ingest.Start(ctx); err != nil {
		return fmt.Errorf("starting ingest server: %w", err)
	}

	a.log.Info("Agent fully started")

	return nil
}

func (a *agent) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	// Stop in reverse order.
	if a.ingest != nil {
		if err := a.ingest.Stop(ctx); err != nil {
			a.log.WithError(err).Error("Error stopping ingest server")
		}
	}

	if a.poster != nil {
		if err := a.poster.Close(); err != nil {
			a.log.WithError(err).Error("Error closing backend")
		}
	}

	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			a.log.WithError(err).Error("Error stopping health server")
		}
	}

	return nil
}

// NewPoster connects the backend selected by cfg.Backend.
func NewPoster(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *Config,
) (export.Poster, error) {
	switch cfg.Backend {
	case BackendGateway:
		return gateway.New(log, cfg.Gateway)
	case BackendGraphite:
		return graphite.New(log, cfg.Graphite)
	case BackendDogStatsD:
		return dogstatsd.New(log, cfg.DogStatsD)
	case BackendOTLP:
		return otlp.New(ctx, log, cfg.OTLP)
	case BackendClickHouse:
		return clickhouse.New(ctx, log, cfg.ClickHouse)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// NewObserver builds the relay for cfg on top of poster. health may be nil.
func NewObserver(
	log logrus.FieldLogger,
	cfg *Config,
	poster export.Poster,
	health *export.HealthMetrics,
) (*observer.Observer, error) {
	return observer.New(
		log,
		poster,
		observer.Config{InstanceID: cfg.InstanceID},
		observer.WithNamingConvention(naming.Basic{Prefix: cfg.Naming.Prefix}),
		observer.WithHealth(health),
	)
}

// Push relays a single NDJSON batch read from r and reports how many
// samples were read and how many data points were sent.
func Push(
	ctx context.Context,
	log logrus.FieldLogger,
	cfg *Config,
	r io.Reader,
) (received, sent int, err error) {
	samples, err := metric.DecodeNDJSON(r)
	if err != nil {
		return 0, 0, fmt.Errorf("reading samples: %w", err)
	}

	poster, err := NewPoster(ctx, log, cfg)
	if err != nil {
		return 0, 0, fmt.Errorf("creating %s poster: %w", cfg.Backend, err)
	}

	defer func() {
		if cerr := poster.Close(); cerr != nil {
			log.WithError(cerr).Warn("Error closing backend")
		}
	}()

	obs, err := NewObserver(log, cfg, poster, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("creating observer: %w", err)
	}

	return len(samples), obs.Update(ctx, samples), nil
}
