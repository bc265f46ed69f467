// Package observer relays batches of samples to a monitoring backend,
// one data point per sample.
package observer

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/export"
	"github.com/ethpandaops/relayoor/internal/metric"
	"github.com/ethpandaops/relayoor/internal/naming"
)

// ErrNilPoster is returned by New when no backend is supplied.
var ErrNilPoster = errors.New("poster is required")

// errNonFinite rejects values no backend wire format can carry.
var errNonFinite = errors.New("value is not finite")

// Config configures an Observer.
type Config struct {
	// InstanceID scopes every data point to a source instance.
	// Empty publishes globally.
	InstanceID string `yaml:"instance_id"`
}

// Option customises an Observer.
type Option func(*Observer)

// WithNamingConvention overrides the default naming.Basic convention.
func WithNamingConvention(c naming.Convention) Option {
	return func(o *Observer) {
		if c != nil {
			o.naming = c
		}
	}
}

// WithHealth records relay counters on h.
func WithHealth(h *export.HealthMetrics) Option {
	return func(o *Observer) {
		o.health = h
	}
}

// Observer converts samples to float64 data points and hands them to
// a Poster. It holds no per-call state; configuration is fixed at
// construction.
type Observer struct {
	log        logrus.FieldLogger
	poster     export.Poster
	naming     naming.Convention
	instanceID string
	health     *export.HealthMetrics
}

// New creates an Observer publishing through poster.
func New(
	log logrus.FieldLogger,
	poster export.Poster,
	cfg Config,
	opts ...Option,
) (*Observer, error) {
	if poster == nil {
		return nil, ErrNilPoster
	}

	o := &Observer{
		log: log.WithFields(logrus.Fields{
			"component": "observer",
			"backend":   poster.Name(),
		}),
		poster:     poster,
		naming:     naming.Basic{},
		instanceID: cfg.InstanceID,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

// InstanceID returns the configured instance identifier.
func (o *Observer) InstanceID() string {
	return o.instanceID
}

// Update relays samples in order and returns how many data points the
// backend accepted. Samples without a value, with an unusable value or
// an unresolvable name are skipped. A backend error abandons the rest of
// the batch. No failure is returned to the caller.
func (o *Observer) Update(ctx context.Context, samples []metric.Sample) int {
	start := time.Now()

	if o.health != nil {
		o.health.BatchesReceived.Inc()
		o.health.SamplesReceived.Add(float64(len(samples)))
		defer func() {
			o.health.BatchDuration.Observe(time.Since(start).Seconds())
		}()
	}

	count, err := o.write(ctx, samples)
	if err != nil {
		o.log.WithError(err).
			WithField("sent", count).
			Warn("Backend connection failed on write")

		if o.health != nil {
			o.health.TransportErrors.WithLabelValues(o.poster.Name()).Inc()
		}
	}

	o.log.WithField("count", count).Debug("Wrote metrics")

	return count
}

func (o *Observer) write(ctx context.Context, samples []metric.Sample) (int, error) {
	count := 0

	for _, s := range samples {
		name, err := o.naming.Name(s)
		if err == nil && name == "" {
			err = naming.ErrEmptyName
		}

		text := s.ValueText()

		if err != nil {
			o.log.WithError(err).
				WithField("metric", s.Name).
				Warn("Unable to resolve publish name")
			o.skipped(export.SkipReasonNaming)

			continue
		}

		if text == "" {
			o.skipped(export.SkipReasonEmpty)

			continue
		}

		value, err := parseValue(text)
		if err != nil {
			o.log.WithError(err).
				WithFields(logrus.Fields{
					"metric": name,
					"value":  text,
				}).
				Warn("Unable to convert metric value into a float64")
			o.skipped(export.SkipReasonMalformed)

			continue
		}

		if err := o.send(ctx, name, value, s.Time()); err != nil {
			return count, err
		}

		count++

		if o.health != nil {
			o.health.PointsSent.WithLabelValues(o.poster.Name()).Inc()
		}
	}

	return count, nil
}

func (o *Observer) send(ctx context.Context, name string, value float64, ts time.Time) error {
	if o.instanceID != "" {
		return o.poster.SendInstanceMetricDataPoint(ctx, name, value, ts, o.instanceID)
	}

	return o.poster.SendMetricDataPoint(ctx, name, value, ts)
}

func (o *Observer) skipped(reason string) {
	if o.health != nil {
		o.health.SamplesSkipped.WithLabelValues(reason).Inc()
	}
}

// parseValue maps "true"/"false" to 1/0 and parses everything else as
// a float64.
func parseValue(text string) (float64, error) {
	switch text {
	case "false":
		text = "0"
	case "true":
		text = "1"
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, err
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, errNonFinite
	}

	return value, nil
}
