// Package api provides public endpoints for system health and connectivity.
//
// These endpoints are designed to be lightweight for external monitoring
// systems such as load balancers and uptime monitors.
package api

import (
	"context"
	"net/http"
	"time"

	"fleetmon/internal/core"
	"fleetmon/internal/storage"

	"github.com/gin-gonic/gin"
)

// Handler manages public endpoints.
type Handler struct {
	engine    *core.Engine
	scheduler *core.Scheduler
	storage   *storage.Storage
	startTime time.Time
}

// NewHandler initializes a new public API handler.
//
// Parameters:
//   - engine: Sweep engine (may be nil in test environments)
//   - scheduler: Sweep scheduler (may be nil)
//   - storage: Database storage layer (may be nil in test environments)
//
// Returns a fully initialized handler ready for HTTP routing.
func NewHandler(engine *core.Engine, scheduler *core.Scheduler, storage *storage.Storage) *Handler {
	return &Handler{
		engine:    engine,
		scheduler: scheduler,
		storage:   storage,
		startTime: time.Now(),
	}
}

// Ping handles GET /ping
//
// Response:
//   - 200 OK with {"message": "pong"}
func (h *Handler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

// Health handles GET /health
//
// Reports the database, engine and scheduler state. Overall status is
// "healthy" only if the database answers and the last sweep succeeded;
// otherwise it is "degraded".
//
// Response:
//   - 200 OK with detailed health report
func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	dbStatus, dbResponseTime := h.checkDatabaseHealth(ctx)
	engine := h.engineHealth()

	overallStatus := "healthy"
	if dbStatus != "healthy" || engine["status"] != "healthy" {
		overallStatus = "degraded"
	}

	scheduled := h.scheduler != nil && h.scheduler.IsRunning()

	c.JSON(http.StatusOK, gin.H{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.startTime).String(),
		"components": gin.H{
			"database": gin.H{
				"status":           dbStatus,
				"response_time_ms": dbResponseTime,
			},
			"engine": engine,
			"scheduler": gin.H{
				"running": scheduled,
			},
		},
	})
}

// checkDatabaseHealth pings the database and measures response time.
func (h *Handler) checkDatabaseHealth(ctx context.Context) (string, int64) {
	if h.storage == nil {
		return "unhealthy", 0
	}

	start := time.Now()
	err := h.storage.Ping(ctx)
	responseTime := time.Since(start).Milliseconds()
	if err != nil {
		return "unhealthy", responseTime
	}
	return "healthy", responseTime
}

// engineHealth describes the last sweep. No sweep yet counts as healthy.
func (h *Handler) engineHealth() gin.H {
	if h.engine == nil {
		return gin.H{"status": "unhealthy"}
	}

	out := gin.H{
		"status":        "healthy",
		"sweep_running": h.engine.IsRunning(),
	}
	last, lastErr := h.engine.LastSweep()
	if last != nil {
		out["last_sweep"] = last.StartedAt.Format(time.RFC3339)
		out["last_duration"] = last.Duration.String()
		out["overall"] = string(last.Overall)
	}
	if lastErr != nil {
		out["status"] = "degraded"
		out["last_error"] = lastErr.Error()
	}
	return out
}
