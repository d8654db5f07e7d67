// Package server exposes the cache over HTTP and drives the
// provisioning agent: admitted images get pulled, evicted images get
// removed. The cache assumes those actions succeed; failures are
// surfaced to the API caller and logged, never reconciled.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/goodtune/imgcached/internal/cache"
	"github.com/goodtune/imgcached/internal/journal"
	"github.com/goodtune/imgcached/internal/metrics"
)

// Provisioner fetches and deletes the artifacts behind image keys.
// The docker agent implements it; tests substitute a fake.
type Provisioner interface {
	Pull(ctx context.Context, image string) error
	Remove(ctx context.Context, image string) error
}

// Config holds API server settings.
type Config struct {
	Addr string

	// ProvisionTimeout bounds each pull/remove call.
	ProvisionTimeout time.Duration
}

// Server is the cache API server.
type Server struct {
	server      *http.Server
	cache       *cache.Cache
	provisioner Provisioner // nil disables provisioning (bookkeeping-only mode)
	sink        journal.Sink
	timeout     time.Duration
	logger      zerolog.Logger
	listener    net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates the API server.
func NewServer(cfg Config, c *cache.Cache, provisioner Provisioner, sink journal.Sink, logger zerolog.Logger) *Server {
	if sink == nil {
		sink = journal.Nop{}
	}
	timeout := cfg.ProvisionTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	s := &Server{
		cache:       c,
		provisioner: provisioner,
		sink:        sink,
		timeout:     timeout,
		logger:      logger.With().Str("component", "api").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/acquire", s.handleAcquire)
	mux.HandleFunc("POST /api/v1/release", s.handleRelease)
	mux.HandleFunc("GET /api/v1/images", s.handleImages)

	s.server = &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}
	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting API server")
	go func() {
		var err error
		if s.listener != nil {
			s.logger.Debug().Msg("Using systemd socket-activated API listener")
			err = s.server.Serve(s.listener)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("API server error")
		}
	}()
	return nil
}

// Stop stops the API server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping API server")
	return s.server.Close()
}

type acquireRequest struct {
	Image     string `json:"image"`
	Container string `json:"container"`

	// Policy optionally overrides the configured eviction policy for
	// this one decision.
	Policy string `json:"policy,omitempty"`
}

type acquireResponse struct {
	Outcome string `json:"outcome"`
	Victim  string `json:"victim,omitempty"`
}

type releaseRequest struct {
	Image     string `json:"image"`
	Container string `json:"container"`
}

type imageResponse struct {
	Image            string  `json:"image"`
	ActiveContainers int     `json:"active_containers"`
	RecentStarts     int     `json:"recent_starts"`
	RecentBusySecs   float64 `json:"recent_busy_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	var req acquireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "acquire", http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Image == "" || req.Container == "" {
		s.writeError(w, "acquire", http.StatusBadRequest, errors.New("image and container are required"))
		return
	}

	var adm cache.Admission
	if req.Policy != "" {
		policy, err := cache.ParsePolicy(req.Policy)
		if err != nil {
			s.writeError(w, "acquire", http.StatusBadRequest, err)
			return
		}
		adm = s.cache.AcquireWithPolicy(req.Image, req.Container, policy)
	} else {
		adm = s.cache.Acquire(req.Image, req.Container)
	}

	s.journal(r.Context(), journal.Event{
		Time:      time.Now(),
		Kind:      journal.KindAcquire,
		Image:     req.Image,
		Container: req.Container,
		Outcome:   adm.Outcome.String(),
		Victim:    adm.Victim,
	})

	if adm.Outcome == cache.NoCapacity {
		// backpressure, not failure: the caller retries the same acquire
		w.Header().Set("Retry-After", "1")
		s.writeJSON(w, "acquire", http.StatusServiceUnavailable, acquireResponse{Outcome: adm.Outcome.String()})
		return
	}

	if err := s.provision(r.Context(), adm, req.Image); err != nil {
		s.logger.Error().Err(err).Str("image", req.Image).Msg("Provisioning failed")
		s.writeError(w, "acquire", http.StatusBadGateway, err)
		return
	}

	s.writeJSON(w, "acquire", http.StatusOK, acquireResponse{
		Outcome: adm.Outcome.String(),
		Victim:  adm.Victim,
	})
}

// provision carries out the actions an admission obligates the caller
// to: pull the admitted image, and for evictions remove the victim's
// artifact.
func (s *Server) provision(ctx context.Context, adm cache.Admission, image string) error {
	if s.provisioner == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	switch adm.Outcome {
	case cache.AdmittedDirectly:
		return s.provisioner.Pull(ctx, image)
	case cache.AdmittedByEviction:
		if err := s.provisioner.Pull(ctx, image); err != nil {
			return err
		}
		if err := s.provisioner.Remove(ctx, adm.Victim); err != nil {
			return err
		}
		s.journal(ctx, journal.Event{
			Time:  time.Now(),
			Kind:  journal.KindEvict,
			Image: adm.Victim,
		})
	}
	return nil
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "release", http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Image == "" || req.Container == "" {
		s.writeError(w, "release", http.StatusBadRequest, errors.New("image and container are required"))
		return
	}

	s.cache.Release(req.Image, req.Container)

	s.journal(r.Context(), journal.Event{
		Time:      time.Now(),
		Kind:      journal.KindRelease,
		Image:     req.Image,
		Container: req.Container,
	})

	metrics.APIRequestsTotal.WithLabelValues("release", strconv.Itoa(http.StatusNoContent)).Inc()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImages(w http.ResponseWriter, r *http.Request) {
	snapshot := s.cache.Snapshot()

	images := make([]imageResponse, 0, len(snapshot))
	for _, st := range snapshot {
		images = append(images, imageResponse{
			Image:            st.Image,
			ActiveContainers: st.ActiveContainers,
			RecentStarts:     st.RecentStarts,
			RecentBusySecs:   st.RecentBusy.Seconds(),
		})
	}

	s.writeJSON(w, "images", http.StatusOK, images)
}

func (s *Server) journal(ctx context.Context, ev journal.Event) {
	if err := s.sink.Record(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("kind", ev.Kind).Msg("Failed to record journal event")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, endpoint string, status int, body any) {
	metrics.APIRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, endpoint string, status int, err error) {
	s.writeJSON(w, endpoint, status, errorResponse{Error: err.Error()})
}
