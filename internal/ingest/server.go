// Package ingest accepts sample batches over HTTP and hands each batch to
// the relay synchronously.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/relayoor/internal/compress"
	"github.com/ethpandaops/relayoor/internal/export"
	"github.com/ethpandaops/relayoor/internal/metric"
)

// SamplesPath is the batch delivery endpoint.
const SamplesPath = "/v1/samples"

// Exporter relays one batch and reports how many data points were sent.
type Exporter interface {
	Update(ctx context.Context, samples []metric.Sample) int
}

// Config configures the ingest server.
type Config struct {
	// Addr is the listen address. Defaults to ":8080".
	Addr string `yaml:"addr"`

	// MaxBodyBytes caps a request body before and after decompression.
	// Defaults to 8MiB.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// ReadTimeout bounds reading a whole request. Defaults to 30s.
	ReadTimeout time.Duration `yaml:"read_timeout"`
}

// ApplyDefaults applies default values to unset fields.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}

	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 8 << 20
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
}

// Response is returned for every accepted batch.
type Response struct {
	RequestID string `json:"request_id"`
	Received  int    `json:"received"`
	Sent      int    `json:"sent"`
}

type errorResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
}

// Server is the ingest HTTP server.
type Server struct {
	log      logrus.FieldLogger
	cfg      Config
	exporter Exporter
	health   *export.HealthMetrics
	router   *mux.Router
	server   *http.Server
	listener net.Listener
}

// New creates an ingest server. health may be nil.
func New(
	log logrus.FieldLogger,
	cfg Config,
	exporter Exporter,
	health *export.HealthMetrics,
) *Server {
	cfg.ApplyDefaults()

	s := &Server{
		log:      log.WithField("component", "ingest"),
		cfg:      cfg,
		exporter: exporter,
		health:   health,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc(SamplesPath, s.handleSamples).Methods(http.MethodPost)

	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:     s.router,
		ReadTimeout: s.cfg.ReadTimeout,
	}

	go func() {
		s.log.WithField("addr", ln.Addr().String()).
			Info("Ingest server started")

		if err := s.server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("Ingest server error")
		}
	}()

	return nil
}

// Addr returns the listener address once started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}

	return s.cfg.Addr
}

// Stop drains in-flight batches and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	log := s.log.WithField("request_id", requestID)

	samples, status, err := s.decode(w, r)
	if err != nil {
		log.WithError(err).Debug("Rejected sample batch")
		s.writeJSON(w, status, errorResponse{RequestID: requestID, Error: err.Error()})

		return
	}

	// The batch is relayed even if the client goes away mid-request.
	sent := s.exporter.Update(context.WithoutCancel(r.Context()), samples)

	log.WithFields(logrus.Fields{
		"received": len(samples),
		"sent":     sent,
	}).Debug("Relayed sample batch")

	s.writeJSON(w, http.StatusAccepted, Response{
		RequestID: requestID,
		Received:  len(samples),
		Sent:      sent,
	})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) ([]metric.Sample, int, error) {
	body, err := compress.Decode(
		r.Header.Get("Content-Encoding"),
		http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes),
	)
	if err != nil {
		return nil, statusFor(err), err
	}

	body = http.MaxBytesReader(w, body, s.cfg.MaxBodyBytes)
	defer body.Close()

	mediaType := "application/x-ndjson"
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err = mime.ParseMediaType(ct)
		if err != nil {
			return nil, http.StatusUnsupportedMediaType, fmt.Errorf("parsing content type: %w", err)
		}
	}

	var samples []metric.Sample

	switch mediaType {
	case "application/json":
		samples, err = metric.DecodeJSON(body)
	case "application/x-ndjson", "application/jsonl", "text/plain":
		samples, err = metric.DecodeNDJSON(body)
	default:
		return nil, http.StatusUnsupportedMediaType, fmt.Errorf("unsupported content type %q", mediaType)
	}

	if err != nil {
		return nil, statusFor(err), err
	}

	return samples, http.StatusAccepted, nil
}

func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}

	return http.StatusBadRequest
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	if s.health != nil {
		s.health.IngestRequests.WithLabelValues(strconv.Itoa(status)).Inc()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Debug("Writing ingest response failed")
	}
}
