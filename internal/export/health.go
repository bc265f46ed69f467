package export

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Skip reasons recorded on SamplesSkipped.
const (
	SkipReasonEmpty     = "empty"
	SkipReasonMalformed = "malformed"
	SkipReasonNaming    = "naming"
)

// HealthConfig configures the Prometheus health metrics server.
type HealthConfig struct {
	// Addr is the listen address for the health metrics server.
	// Defaults to ":9090".
	Addr string `yaml:"addr"`
}

// HealthMetrics exposes Prometheus metrics for relay health.
type HealthMetrics struct {
	log      logrus.FieldLogger
	addr     string
	server   *http.Server
	listener net.Listener
	registry *prometheus.Registry

	// Adapter
	BatchesReceived prometheus.Counter
	SamplesReceived prometheus.Counter
	SamplesSkipped  *prometheus.CounterVec // reason
	PointsSent      *prometheus.CounterVec // backend
	TransportErrors *prometheus.CounterVec // backend
	BatchDuration   prometheus.Histogram

	// Ingest
	IngestRequests *prometheus.CounterVec // status

	running atomic.Bool
}

// NewHealthMetrics creates a new health metrics server.
func NewHealthMetrics(
	log logrus.FieldLogger,
	cfg HealthConfig,
) *HealthMetrics {
	reg := prometheus.NewRegistry()

	h := &HealthMetrics{
		log:      log.WithField("component", "health"),
		addr:     cfg.Addr,
		registry: reg,

		BatchesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relayoor",
			Name:      "batches_received_total",
			Help:      "Total sample batches handed to the relay.",
		}),
		SamplesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relayoor",
			Name:      "samples_received_total",
			Help:      "Total samples handed to the relay.",
		}),
		SamplesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayoor",
				Name:      "samples_skipped_total",
				Help:      "Total samples not relayed by reason.",
			},
			[]string{"reason"},
		),
		PointsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayoor",
				Name:      "points_sent_total",
				Help:      "Total data points accepted by the backend.",
			},
			[]string{"backend"},
		),
		TransportErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayoor",
				Name:      "transport_errors_total",
				Help:      "Total batches abandoned after a backend transport error.",
			},
			[]string{"backend"},
		),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayoor",
			Name:      "batch_duration_seconds",
			Help:      "Time to relay a single batch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}, // 1ms-5s
		}),
		IngestRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "relayoor",
				Name:      "ingest_requests_total",
				Help:      "Total ingest HTTP requests by response status.",
			},
			[]string{"status"},
		),
	}

	reg.MustRegister(
		h.BatchesReceived,
		h.SamplesReceived,
		h.SamplesSkipped,
		h.PointsSent,
		h.TransportErrors,
		h.BatchDuration,
		h.IngestRequests,
	)

	return h
}

// Start begins serving the /metrics endpoint.
func (h *HealthMetrics) Start(_ context.Context) error {
	if h.addr == "" {
		h.addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		h.registry,
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "ok")
	})

	// pprof endpoints for CPU/memory profiling.
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", h.addr, err)
	}

	h.listener = ln

	h.server = &http.Server{
		Handler: mux,
	}

	h.running.Store(true)

	go func() {
		h.log.WithField("addr", ln.Addr().String()).
			Info("Health metrics server started")

		if err := h.server.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			h.log.WithError(err).
				Error("Health metrics server error")
		}

		h.running.Store(false)
	}()

	return nil
}

// Addr returns the actual listener address. Useful when started
// with ":0" to get the OS-assigned port.
func (h *HealthMetrics) Addr() string {
	if h.listener != nil {
		return h.listener.Addr().String()
	}

	return h.addr
}

// Stop gracefully shuts down the health metrics server.
func (h *HealthMetrics) Stop() error {
	if h.server == nil {
		return nil
	}

	return h.server.Close()
}
