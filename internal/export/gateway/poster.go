// Package gateway posts data points to a custom-metrics HTTP gateway
// that authenticates with an API key header.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/compress"
	"github.com/ethpandaops/relayoor/internal/export"
	"github.com/ethpandaops/relayoor/internal/version"
)

// APIKeyHeader carries the gateway credential.
const APIKeyHeader = "x-stackdriver-apikey"

const protoVersion = 1

// Message is the gateway request body.
type Message struct {
	Timestamp    int64       `json:"timestamp"`
	ProtoVersion int         `json:"proto_version"`
	Data         []DataPoint `json:"data"`
}

// DataPoint is a single value in a Message.
type DataPoint struct {
	Name        string  `json:"name"`
	Value       float64 `json:"value"`
	CollectedAt int64   `json:"collected_at"`
	Instance    string  `json:"instance,omitempty"`
}

// statusError is a non-2xx gateway response.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// Poster implements export.Poster against the gateway.
type Poster struct {
	cfg        Config
	client     *http.Client
	compressor *compress.Compressor
	log        logrus.FieldLogger
	now        func() time.Time
}

var _ export.Poster = (*Poster)(nil)

// New creates a new gateway poster.
func New(log logrus.FieldLogger, cfg Config) (*Poster, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	compressor, err := compress.NewCompressor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("creating compressor: %w", err)
	}

	transport := &http.Transport{
		MaxIdleConns:        2,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   !cfg.IsKeepAlive(),
	}

	return &Poster{
		cfg: cfg,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
		},
		compressor: compressor,
		log:        log.WithField("component", "gateway_poster"),
		now:        time.Now,
	}, nil
}

// Name implements export.Poster.
func (p *Poster) Name() string {
	return "gateway"
}

// SendMetricDataPoint implements export.Poster.
func (p *Poster) SendMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
) error {
	return p.send(ctx, DataPoint{
		Name:        name,
		Value:       value,
		CollectedAt: ts.Unix(),
	})
}

// SendInstanceMetricDataPoint implements export.Poster.
func (p *Poster) SendInstanceMetricDataPoint(
	ctx context.Context,
	name string,
	value float64,
	ts time.Time,
	instanceID string,
) error {
	return p.send(ctx, DataPoint{
		Name:        name,
		Value:       value,
		CollectedAt: ts.Unix(),
		Instance:    instanceID,
	})
}

func (p *Poster) send(ctx context.Context, point DataPoint) error {
	data, err := json.Marshal(Message{
		Timestamp:    p.now().Unix(),
		ProtoVersion: protoVersion,
		Data:         []DataPoint{point},
	})
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	body, err := p.compressor.Compress(data)
	if err != nil {
		return fmt.Errorf("compressing message: %w", err)
	}

	var lastErr error

	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.cfg.RetryWait):
			}
		}

		lastErr = p.post(ctx, body)
		if lastErr == nil {
			return nil
		}

		if !retryable(lastErr) {
			return lastErr
		}

		p.log.WithError(lastErr).
			WithFields(logrus.Fields{
				"metric":  point.Name,
				"attempt": attempt + 1,
			}).
			Debug("Gateway request failed")
	}

	return fmt.Errorf("sending data point after %d attempts: %w", p.cfg.MaxRetries+1, lastErr)
}

func (p *Poster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set(APIKeyHeader, p.cfg.APIKey)

	if encoding := p.compressor.ContentEncoding(); encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	defer resp.Body.Close()

	// Drain response body to enable connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode}
	}

	return nil
}

// retryable reports whether err is a transport error or a 5xx response.
func retryable(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return true
	}

	return se.code >= 500
}

// Close releases the compressor and idle connections.
func (p *Poster) Close() error {
	p.client.CloseIdleConnections()

	return p.compressor.Close()
}
