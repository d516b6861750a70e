// Package diag exposes the sidecar diagnostics endpoints of a running batch:
// liveness, Prometheus metrics, and a JSON progress snapshot.
package diag

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pdfbatch/internal/metrics"
	"pdfbatch/internal/progress"
)

// Server serves the diagnostics routes on its own listener so the batch can
// be observed without touching its output.
type Server struct {
	tracker *progress.Tracker
	logger  *zap.Logger
	router  chi.Router
	srv     *http.Server

	mu    sync.Mutex
	bound string
}

// New builds the diagnostics server for the given listen address.
func New(addr string, tracker *progress.Tracker, logger *zap.Logger) *Server {
	s := &Server{tracker: tracker, logger: logger}

	r := chi.NewRouter()
	r.Use(s.recoverer)
	r.Get("/healthz", s.healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/progress", s.progressSnapshot)
	s.router = r

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router for use without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Diagnostics are a
// convenience next to the conversion work, so a failed bind is logged and
// the batch carries on without them.
func (s *Server) Start() {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		s.logger.Warn("diagnostics endpoint disabled",
			zap.String("addr", s.srv.Addr), zap.Error(err))
		return
	}

	s.mu.Lock()
	s.bound = ln.Addr().String()
	s.mu.Unlock()
	s.logger.Info("diagnostics listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("diagnostics server stopped", zap.Error(err))
		}
	}()
}

// Addr returns the bound address, or "" when Start never bound one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bound
}

// Shutdown drains in-flight requests. Safe to call even when the bind failed.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("diagnostics shutdown failed", zap.Error(err))
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) progressSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in diagnostics handler", zap.Any("panic", rec))
				s.writeJSON(w, http.StatusInternalServerError,
					map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write JSON response failed", zap.Error(err))
	}
}
