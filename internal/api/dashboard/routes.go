package dashboard

import (
	"fleetmon/internal/core"
	"fleetmon/internal/storage"

	"github.com/gin-gonic/gin"
)

// SetupRoutes registers the dashboard endpoints on routerGroup.
func SetupRoutes(routerGroup *gin.RouterGroup, storage *storage.Storage, load core.InventoryLoader) {
	h := NewHandler(storage, load)

	routerGroup.GET("/dashboard-data", h.Dashboard)
	routerGroup.GET("/historical-data", h.History)
	routerGroup.GET("/multi-historical-data", h.MultiHistory)
	routerGroup.GET("/server-historical-data", h.ServerHistory)
}
