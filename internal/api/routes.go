package api

import (
	"fleetmon/internal/api/dashboard"
)

// setupRoutes configures API routes.
func (s *Server) setupRoutes() {
	baseHandler := NewHandler(s.engine, s.scheduler, s.storage)

	apiGroup := s.router.Group("/api")

	// Base endpoints
	apiGroup.GET("/ping", baseHandler.Ping)
	apiGroup.GET("/health", baseHandler.Health)

	// Dashboard data
	dashboard.SetupRoutes(apiGroup, s.storage, s.load)
}
