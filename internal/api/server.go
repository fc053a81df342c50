// Package api provides the HTTP read API of fleetmon.
// This package implements a JSON API using the Gin framework.
//
// Example usage:
//
//	server := api.NewServer(cfg.Server, engine, scheduler, storage, loader)
//	err := server.Start()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetmon/internal/config"
	"fleetmon/internal/core"
	"fleetmon/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP API server.
type Server struct {
	config    config.ServerConfig
	engine    *core.Engine
	scheduler *core.Scheduler
	storage   *storage.Storage
	load      core.InventoryLoader
	router    *gin.Engine
	server    *http.Server
}

// NewServer creates a new HTTP API server instance.
//
// Parameters:
//   - cfg: Server configuration containing address and timeout settings
//   - engine: Sweep engine
//   - scheduler: Sweep scheduler (may be nil)
//   - storage: Storage instance for database operations
//   - load: Inventory loader used by the dashboard
//
// Returns:
//   - *Server: Initialized server instance
func NewServer(cfg config.ServerConfig, engine *core.Engine, scheduler *core.Scheduler, storage *storage.Storage, load core.InventoryLoader) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:    cfg,
		engine:    engine,
		scheduler: scheduler,
		storage:   storage,
		load:      load,
		router:    gin.New(),
	}

	// Setup middleware and routes
	server.setupMiddleware()
	server.setupRoutes()

	server.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      server.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return server
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops.
//
// Returns:
//   - error: Any error that occurred during server startup
func (s *Server) Start() error {
	log.Info().Str("addr", s.config.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
//
// Parameters:
//   - ctx: Context for shutdown timeout
//
// Returns:
//   - error: Any error that occurred during shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// setupMiddleware configures middleware for the Gin router.
func (s *Server) setupMiddleware() {
	// Request ID middleware (should be first)
	s.router.Use(RequestID())

	s.router.Use(PanicRecovery())

	s.router.Use(TimeoutMiddleware(30 * time.Second))

	s.router.Use(LoggerMiddleware())
}
