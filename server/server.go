// Package server implements the pciledger HTTP server: REST API, auth,
// metrics and SSE audit events.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GoCodeAlone/pciledger/config"
	"github.com/GoCodeAlone/pciledger/metrics"
	"github.com/GoCodeAlone/pciledger/server/api"
	"github.com/GoCodeAlone/pciledger/server/ws"
)

// Server is the pciledger HTTP server.
type Server struct {
	cfg     config.Config
	mux     *http.ServeMux
	httpSrv *http.Server
	logger  *slog.Logger

	handlers *api.Handlers
	hub      *ws.Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	routesOnce sync.Once
	srvMu      sync.Mutex

	// JWT secret caching
	secretOnce      sync.Once
	generatedSecret []byte

	now func() time.Time
}

// New creates a Server serving h.
func New(cfg config.Config, h *api.Handlers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if h.Logger == nil {
		h.Logger = logger
	}
	return &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		logger:   logger,
		handlers: h,
		now:      time.Now,
	}
}

// SetHub attaches the SSE hub served at /events.
func (s *Server) SetHub(hub *ws.Hub) {
	s.hub = hub
}

// SetMetrics enables request instrumentation and, when gatherer is non-nil
// and metrics are enabled in config, the scrape endpoint.
func (s *Server) SetMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) {
	s.metrics = m
	s.gatherer = gatherer
}

// Handler returns the fully routed HTTP handler.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.registerRoutes)
	return s.mux
}

// Start registers routes and begins listening.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr
	if addr == "" {
		addr = ":9090"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}
	if s.hub != nil {
		// Streams never finish on their own; end them so Shutdown can drain.
		httpSrv.RegisterOnShutdown(s.hub.Close)
	}
	s.srvMu.Lock()
	s.httpSrv = httpSrv
	s.srvMu.Unlock()

	s.logger.Info("server listening", slog.String("addr", addr))
	return httpSrv.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.srvMu.Lock()
	httpSrv := s.httpSrv
	s.srvMu.Unlock()
	if httpSrv == nil {
		return nil
	}
	return httpSrv.Shutdown(ctx)
}

// registerRoutes sets up all HTTP routes.
func (s *Server) registerRoutes() {
	h := s.handlers

	// Public routes (no auth required)
	s.mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	s.mux.HandleFunc("GET /api/status", h.StatusHandler())

	if s.cfg.Metrics.Enabled && s.gatherer != nil {
		path := s.cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.mux.Handle("GET "+path, metrics.Handler(s.gatherer))
	}

	// SSE: auth handled inline because EventSource can't set headers
	if s.hub != nil {
		s.mux.HandleFunc("GET /events", s.handleSSE)
	}

	// Protected API, wrapped in auth middleware
	apiMux := http.NewServeMux()
	h.RegisterRoutes(apiMux)
	apiMux.HandleFunc("GET /api/auth/me", s.handleMe)

	s.mux.Handle("/api/", s.instrument(s.authMiddleware(apiMux)))
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONError writes a JSON error response.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleSSE authenticates the query token and hands the stream to the hub.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing token")
		return
	}
	if _, err := s.verifyToken(token); err != nil {
		writeJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.hub.ServeSSE(w, r)
}
