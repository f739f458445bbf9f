// Package server exposes the operator HTTP API of the daemon.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/abihf/blinkgate/session"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"
)

// Gate is the part of the session controller the API drives.
type Gate interface {
	State() session.State
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// History reads persisted entries beyond the in-memory log.
type History interface {
	Recent(ctx context.Context, limit int) ([]session.Entry, error)
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Server struct {
	gate    Gate
	history History
	logger  *slog.Logger

	router     *chi.Mux
	httpServer *http.Server
}

// New builds the API. history may be nil, in which case /history answers 404.
func New(addr string, gate Gate, history History, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	s := &Server{
		gate:    gate,
		history: history,
		logger:  logger,
		router:  r,
	}

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(30 * time.Second))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/api/v1/health", s.health)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/logs", s.logs)
		r.Get("/history", s.recent)
		r.Post("/camera/start", s.startCamera)
		r.Post("/camera/stop", s.stopCamera)
	})
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "failed to start server")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chiMiddleware.GetReqID(r.Context()))
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.gate.State())
}

func (s *Server) logs(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.gate.State().Logs)
}

func (s *Server) recent(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		respondError(w, http.StatusNotFound, "history is not configured")
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
			return
		}
		limit = n
	}

	entries, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("Failed to read history", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	respondJSON(w, http.StatusOK, entries)
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Start(r.Context()); err != nil {
		s.logger.Error("Camera start failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.gate.State())
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	if err := s.gate.Stop(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, s.gate.State())
}
