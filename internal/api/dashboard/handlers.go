// Package dashboard implements the read-only endpoints behind the status
// dashboard: the current fleet view with the paginated event log, and the
// history of individual state keys.
package dashboard

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"fleetmon/internal/api/types"
	"fleetmon/internal/config"
	"fleetmon/internal/core"
	"fleetmon/internal/metrics"
	"fleetmon/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

const (
	defaultHistoryMinutes = 60
	unknownStatus         = "unknown"
)

// Handler serves dashboard data from the current-state table, the history
// table and the event log.
type Handler struct {
	storage *storage.Storage
	load    core.InventoryLoader
	now     func() time.Time
}

// NewHandler creates a dashboard handler.
//
// Parameters:
//   - storage: Database storage layer
//   - load: Inventory loader; the dashboard lists whatever it returns
//
// Returns:
//   - Pointer to initialized Handler
func NewHandler(storage *storage.Storage, load core.InventoryLoader) *Handler {
	return &Handler{storage: storage, load: load, now: time.Now}
}

// Dashboard handles GET /api/dashboard-data
//
// Returns every configured server and API with its current state, the
// requested page of the event log (most recent first) and the overall status.
// A page past the end returns an empty event_log.
//
// Query parameters:
//   - page: 1-indexed page number (default 1, values below 1 are clamped)
func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		page = 1
	}

	inv, err := h.load()
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to load inventory", err))
		return
	}

	states, err := h.storage.CurrentStates(ctx)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to read current states", err))
		return
	}

	total, err := h.storage.CountEvents(ctx)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to count events", err))
		return
	}

	p := types.Paginate(total, page, inv.General.Dashboard.MaxEventsDisplayed)
	events := []storage.Event{}
	if !p.PastEnd() {
		if events, err = h.storage.QueryEvents(ctx, p.PageSize, p.Offset); err != nil {
			types.AbortWithError(c, types.InternalError("failed to read events", err))
			return
		}
	}

	c.JSON(http.StatusOK, types.DashboardResponse{
		Servers: lo.Map(inv.Servers, func(s config.Server, _ int) types.ServerView {
			return serverView(s, states)
		}),
		APIs: lo.Map(inv.APIs, func(a config.API, _ int) types.APIView {
			return types.APIView{
				Name:        a.Name,
				URL:         a.URL,
				RequiresSSH: a.RequiresSSH,
				Server:      a.Server,
				Status:      decodeOr(states, core.APIKey(a.Name), false),
			}
		}),
		EventLog: lo.Map(events, func(e storage.Event, _ int) types.EventView {
			return types.EventView{Timestamp: e.Timestamp.UTC(), Message: e.Message}
		}),
		TotalEvents:   total,
		CurrentPage:   p.Page,
		TotalPages:    p.TotalPages,
		EventsPerPage: p.PageSize,
		OverallStatus: decodeOr(states, core.OverallKey, unknownStatus),
	})
}

// History handles GET /api/historical-data
//
// Query parameters:
//   - name: State key (required)
//   - minutes: Window length, a positive integer (default 60)
//
// Response:
//   - 200 OK with [{timestamp, state}] ordered oldest first
//   - 400 Bad Request with {"error": ...} on invalid parameters
func (h *Handler) History(c *gin.Context) {
	var req types.HistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		types.AbortWithError(c, types.ValidationError(err.Error()))
		return
	}
	if req.Name == "" {
		types.AbortWithError(c, types.ValidationError("the 'name' parameter is required"))
		return
	}

	minutes := defaultHistoryMinutes
	if req.Minutes != "" {
		m, err := strconv.Atoi(req.Minutes)
		if err != nil || m <= 0 {
			types.AbortWithError(c, types.ValidationError("the 'minutes' parameter must be a positive integer"))
			return
		}
		minutes = m
	}

	points, err := h.window(c.Request.Context(), req.Name, minutes)
	if err != nil {
		types.AbortWithError(c, types.InternalError("failed to read history", err))
		return
	}
	c.JSON(http.StatusOK, points)
}

// MultiHistory handles GET /api/multi-historical-data
//
// Returns the history of name over the 5, 15, 30 and 60 minute windows.
func (h *Handler) MultiHistory(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		types.AbortWithError(c, types.ValidationError("the 'name' parameter is required"))
		return
	}
	h.respondWindows(c, name)
}

// ServerHistory handles GET /api/server-historical-data
//
// Same as MultiHistory for the key "<server>_<resource>".
func (h *Handler) ServerHistory(c *gin.Context) {
	var req types.ServerHistoryRequest
	if err := c.ShouldBindQuery(&req); err != nil || req.Server == "" || req.Resource == "" {
		types.AbortWithError(c, types.ValidationError("the 'server' and 'resource' parameters are required"))
		return
	}
	h.respondWindows(c, req.Server+"_"+req.Resource)
}

func (h *Handler) respondWindows(c *gin.Context, key string) {
	out := make(map[string][]types.HistoryPoint, len(types.Windows))
	for _, w := range types.Windows {
		points, err := h.window(c.Request.Context(), key, w.Minutes)
		if err != nil {
			types.AbortWithError(c, types.InternalError("failed to read history", err))
			return
		}
		out[w.Label] = points
	}
	c.JSON(http.StatusOK, out)
}

// window returns the history of key over the last minutes.
func (h *Handler) window(ctx context.Context, key string, minutes int) ([]types.HistoryPoint, error) {
	end := h.now().UTC()
	start := end.Add(-time.Duration(minutes) * time.Minute)

	rows, err := h.storage.QueryHistory(ctx, key, start, end)
	if err != nil {
		return nil, err
	}
	return lo.Map(rows, func(r storage.HistoricalState, _ int) types.HistoryPoint {
		return types.HistoryPoint{Timestamp: r.Timestamp.UTC(), State: []byte(r.Value)}
	}), nil
}

func serverView(s config.Server, states map[string][]byte) types.ServerView {
	disks := s.Disks
	if disks == nil {
		disks = []string{}
	}
	return types.ServerView{
		Name:      s.Name,
		Hostname:  s.SSH.Hostname,
		Disks:     disks,
		Status:    decodeOr(states, core.SSHKey(s.Name), false),
		Info:      decodeOr(states, core.InfoKey(s.Name), map[string]string{}),
		LoadState: decodeOr(states, core.ResourceKey(s.Name, "load"), ""),
		RAMState:  decodeOr(states, core.ResourceKey(s.Name, "ram"), ""),
		DiskStates: lo.SliceToMap(disks, func(mount string) (string, string) {
			return mount, decodeOr(states, core.ResourceKey(s.Name, metrics.DiskKey(mount)), "")
		}),
	}
}

// decodeOr decodes states[key] into a T, falling back to def when the key is
// missing or holds something else.
func decodeOr[T any](states map[string][]byte, key string, def T) T {
	raw, ok := states[key]
	if !ok {
		return def
	}
	var v T
	if err := storage.Decode(raw, &v); err != nil {
		return def
	}
	return v
}
