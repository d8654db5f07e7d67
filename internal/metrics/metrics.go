package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Cache metrics
	AcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_acquisitions_total",
			Help: "Total acquire calls by outcome",
		},
		[]string{"outcome"},
	)

	EvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_evictions_total",
			Help: "Total images evicted by policy",
		},
		[]string{"policy"},
	)

	ImagesResident = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcached_images_resident",
			Help: "Number of images currently resident in the cache",
		},
	)

	ContainersActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "imgcached_containers_active",
			Help: "Number of open (image, container) holds",
		},
	)

	// Docker driver metrics
	ImagePullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_image_pulls_total",
			Help: "Total image pulls by result",
		},
		[]string{"result"},
	)

	ImageRemovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_image_removals_total",
			Help: "Total image removals by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_api_requests_total",
			Help: "Total API requests by endpoint and status",
		},
		[]string{"endpoint", "status"},
	)

	// Journal metrics
	JournalEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imgcached_journal_events_total",
			Help: "Total journal events by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		AcquisitionsTotal,
		EvictionsTotal,
		ImagesResident,
		ContainersActive,
		ImagePullsTotal,
		ImageRemovalsTotal,
		APIRequestsTotal,
		JournalEventsTotal,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
