// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api wires the HTTP surface: router, middleware chain, and
// server lifecycle.
package api

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/tailscale/tscert"

	"github.com/wingedpig/crucible/internal/api/handlers"
	"github.com/wingedpig/crucible/internal/api/middleware"
	"github.com/wingedpig/crucible/internal/config"
	"github.com/wingedpig/crucible/internal/events"
	"github.com/wingedpig/crucible/internal/history"
	"github.com/wingedpig/crucible/internal/manager"
)

// API mount points.
const (
	APIPrefix = "/ai/sandbox/v1/api"
	MCPPath   = "/ai/sandbox/v1/mcp"
)

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Manager  *manager.Manager
	EventBus events.EventBus
	History  *history.Store // nil disables the history route
	MCP      http.Handler   // mounted at MCPPath when non-nil
	Config   *config.Config
	Version  string
}

// NewRouter creates the API router with the full middleware chain.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS(deps.Config.Server.AllowedOrigins))
	r.Use(middleware.Auth(deps.Config.Server.APIKey, APIPrefix+"/health", "/"))

	healthHandler := handlers.NewHealthHandler(deps.Manager, deps.Version, APIPrefix, MCPPath)
	r.HandleFunc("/", healthHandler.Root).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	r.HandleFunc("/events", eventHandler.WebSocket).Methods("GET")

	if deps.MCP != nil {
		r.Handle(MCPPath, deps.MCP).Methods("POST", "OPTIONS")
	}

	api := r.PathPrefix(APIPrefix).Subrouter()
	api.HandleFunc("/health", healthHandler.Health).Methods("GET")

	// OPTIONS is listed so CORS preflights reach the middleware chain,
	// where the CORS middleware answers them.
	executeHandler := handlers.NewExecuteHandler(deps.Manager)
	api.HandleFunc("/execute", executeHandler.Execute).Methods("POST", "OPTIONS")
	api.HandleFunc("/execute_sync", executeHandler.ExecuteSync).Methods("POST", "OPTIONS")

	sessionHandler := handlers.NewSessionHandler(deps.Manager, deps.History)
	api.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	api.HandleFunc("/sessions", sessionHandler.List).Methods("GET", "OPTIONS")
	api.HandleFunc("/sessions/{id}", sessionHandler.Get).Methods("GET")
	api.HandleFunc("/sessions/{id}", sessionHandler.Delete).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sessions/{id}/interrupt", sessionHandler.Interrupt).Methods("POST", "OPTIONS")
	if deps.History != nil {
		api.HandleFunc("/sessions/{id}/history", sessionHandler.History).Methods("GET")
	}

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    config.ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. With tailscale_tls set, certificates
// come from the local tailscaled.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.ListenAddr()
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	if s.cfg.TailscaleTLS {
		s.server.TLSConfig = &tls.Config{
			GetCertificate: tscert.GetCertificate,
		}
		log.Printf("[api] listening on https://%s (tailscale TLS)", addr)
		return s.server.ListenAndServeTLS("", "")
	}

	log.Printf("[api] listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("[api] shutting down")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
