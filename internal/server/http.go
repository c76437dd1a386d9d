package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/coffersTech/logrelay/internal/registry"
	"github.com/coffersTech/logrelay/internal/session"
	"github.com/coffersTech/logrelay/internal/stats"
)

// AdminServer exposes metrics and live ingest state over HTTP.
type AdminServer struct {
	stats    *stats.Recorder
	registry *registry.Server
	gatherer prometheus.Gatherer
	session  session.Session
	logger   zerolog.Logger
	srv      *http.Server
}

func NewAdminServer(st *stats.Recorder, reg *registry.Store, gatherer prometheus.Gatherer, sess session.Session, logger zerolog.Logger) *AdminServer {
	return &AdminServer{
		stats:    st,
		registry: registry.NewServer(reg),
		gatherer: gatherer,
		session:  sess,
		logger:   logger.With().Str("component", "admin-http").Logger(),
	}
}

// Handler returns the admin routes.
func (s *AdminServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/connections", s.registry.HandleListConnections)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the HTTP server until Shutdown.
func (s *AdminServer) Start(addr string) error {
	s.srv = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	s.logger.Info().Str("addr", addr).Msg("admin listening")
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	if s.srv != nil {
		return s.srv.Shutdown(ctx)
	}
	return nil
}

func (s *AdminServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":       "ok",
		"session_id":   s.session.ID.String(),
		"session_name": s.session.Name,
	})
}

// handleStats returns ingest counters.
func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats.Snapshot()); err != nil {
		s.logger.Error().Err(err).Msg("JSON encode error")
	}
}
