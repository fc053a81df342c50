// Package server provides the main server orchestration for fleetmon.
//
// This package coordinates the startup and shutdown of all core components:
//   - SQLite storage initialization
//   - Sweep engine and scheduler startup
//   - HTTP API server management
//   - Graceful shutdown handling
//
// The server follows a structured lifecycle:
//  1. Storage initialization
//  2. Engine and scheduler startup
//  3. HTTP API server launch
//  4. Signal handling and graceful shutdown
package server

import (
	"context"
	"fmt"
	"time"

	"fleetmon/internal/alert"
	"fleetmon/internal/api"
	"fleetmon/internal/config"
	"fleetmon/internal/core"
	"fleetmon/internal/probe"
	"fleetmon/internal/storage"

	"github.com/rs/zerolog/log"
)

// shutdownTimeout bounds the graceful shutdown sequence.
const shutdownTimeout = 30 * time.Second

// Server represents the main fleetmon server orchestrator.
type Server struct {
	// cfg holds the application configuration
	cfg *config.Config
}

// New creates a new server instance with the provided configuration.
//
// The server is not started until Start() is called.
func New(cfg *config.Config) *Server {
	return &Server{
		cfg: cfg,
	}
}

// loadInventory reads the inventory directory. It is called before every
// sweep and on every dashboard request.
func (s *Server) loadInventory() (*config.Inventory, error) {
	return config.LoadInventory(s.cfg.Inventory.Dir)
}

// Start initializes and starts all server components in order.
//
// This method blocks until:
//   - A fatal error occurs during startup
//   - The provided context is cancelled (shutdown signal)
//   - The HTTP server encounters an unrecoverable error
//
// Returns an error if any component fails to start or stop gracefully.
func (s *Server) Start(ctx context.Context) error {
	// Phase 1: Initialize SQLite storage
	store, err := storage.New(s.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close storage")
		}
	}()
	log.Info().Str("path", s.cfg.Storage.Path).Msg("Storage initialized")

	// Phase 2: Engine and scheduler
	notifier := alert.NewWebhookNotifier(s.cfg.Alert.WebhookURL, s.cfg.Alert.Timeout)
	if !notifier.Configured() {
		log.Warn().Msg("No webhook URL configured, alerts will only be logged")
	}

	prober := probe.NewProber(
		probe.NewSSHDialer(s.cfg.SSH),
		probe.NewHTTPProber(s.cfg.Checks.HTTPTimeout),
		s.cfg.Checks.CommandTimeout,
	)
	engine := core.NewEngine(s.cfg, store, prober, notifier)
	scheduler := core.NewScheduler(engine, s.loadInventory)

	if err := scheduler.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Scheduler not started, sweeps are disabled")
	}
	defer scheduler.Stop()

	// Phase 3: HTTP API server
	apiServer := api.NewServer(s.cfg.Server, engine, scheduler, store, s.loadInventory)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	// Phase 4: Wait for shutdown signal or server error
	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received, starting graceful shutdown")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Shutdown HTTP server first to stop accepting new requests
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}
