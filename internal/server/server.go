package server

// Package server exposes the investigation service over HTTP: a JSON API for
// starting and inspecting sessions, a WebSocket stream of per-transition
// snapshots, a health probe, and the Prometheus metrics endpoint.

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/opsprobe/opsprobe/internal/audit"
	"github.com/opsprobe/opsprobe/internal/config"
	"github.com/opsprobe/opsprobe/internal/db"
	"github.com/opsprobe/opsprobe/internal/session"
)

// Server is the opsprobe HTTP server.
type Server struct {
	cfg      *config.Config
	sessions session.Manager
	store    db.Store
	auditLog audit.Logger

	httpServer *http.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	running bool
}

// NewServer creates a server over the given components.
func NewServer(cfg *config.Config, sessions session.Manager, store db.Store, auditLog audit.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if sessions == nil {
		return nil, fmt.Errorf("session manager cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		store:    store,
		auditLog: auditLog,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start starts the HTTP listener.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.running = true
	s.mu.Unlock()

	mux := http.NewServeMux()
	s.registerHandlers(mux)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler: mux,
		// Session runs can take minutes; the write timeout must outlive the
		// per-session budget.
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(s.cfg.Workflow.SessionBudgetSeconds+30) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.auditLog != nil {
				_ = s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerShutdown).
					WithError(err, "listen_error").
					WithDescription("HTTP server exited with error"))
			}
		}
	}()

	if s.auditLog != nil {
		_ = s.auditLog.Log(s.ctx, audit.NewEvent(audit.EventServerStarted).
			WithResult(audit.ResultSuccess).
			WithDescription(fmt.Sprintf("Server listening on port %d", s.cfg.Server.Port)))
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("server is not running")
	}
	s.running = false
	s.mu.Unlock()

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
	}

	s.cancel()
	s.wg.Wait()

	if s.auditLog != nil {
		_ = s.auditLog.Log(context.Background(), audit.NewEvent(audit.EventServerShutdown).
			WithResult(audit.ResultSuccess).
			WithDescription("Server stopped"))
	}
	return nil
}

// Wait blocks until the server is stopped.
func (s *Server) Wait() {
	<-s.ctx.Done()
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// registerHandlers wires all routes.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/v1/sessions/{id}/checkpoints", s.handleListCheckpoints)

	mux.HandleFunc("POST /api/v1/checkpoints/sweep", s.handleSweepCheckpoints)
	mux.HandleFunc("GET /api/v1/audit", s.handleListAuditEvents)

	mux.HandleFunc("GET /ws/sessions/{id}", s.handleSessionStream)

	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
}
