package dashboard

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"fleetmon/internal/api/types"
	"fleetmon/internal/config"
	"fleetmon/internal/storage"

	"github.com/gin-gonic/gin"
	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type fixture struct {
	router *gin.Engine
	store  *storage.Storage
	now    time.Time
}

func newFixture(t *testing.T, pageSize int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.New(config.StorageConfig{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	inv := &config.Inventory{
		Servers: []config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}, Disks: []string{"/", "/data"}}},
		APIs:    []config.API{{Name: "billing", URL: "https://billing.example.com/health"}},
		General: config.General{Dashboard: config.DashboardConfig{MaxEventsDisplayed: pageSize}},
	}

	f := &fixture{store: store, now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	h := NewHandler(store, func() (*config.Inventory, error) { return inv, nil })
	h.now = func() time.Time { return f.now }

	f.router = gin.New()
	group := f.router.Group("/api")
	group.GET("/dashboard-data", h.Dashboard)
	group.GET("/historical-data", h.History)
	group.GET("/multi-historical-data", h.MultiHistory)
	group.GET("/server-historical-data", h.ServerHistory)
	return f
}

func (f *fixture) get(t *testing.T, url string, out any) int {
	t.Helper()
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, url, nil))
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w.Code
}

func TestDashboardPagination(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()
	for i := 0; i < 55; i++ {
		require.NoError(t, f.store.AppendEvent(ctx, f.now.Add(time.Duration(i)*time.Second), fmt.Sprintf("event %d", i)))
	}

	var resp types.DashboardResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/dashboard-data", &resp))
	assert.Equal(t, int64(55), resp.TotalEvents)
	assert.Equal(t, 3, resp.TotalPages)
	assert.Equal(t, 1, resp.CurrentPage)
	assert.Equal(t, 20, resp.EventsPerPage)
	require.Len(t, resp.EventLog, 20)
	assert.Equal(t, "event 54", resp.EventLog[0].Message)

	resp = types.DashboardResponse{}
	f.get(t, "/api/dashboard-data?page=3", &resp)
	assert.Len(t, resp.EventLog, 15)
	assert.Equal(t, "event 0", resp.EventLog[14].Message)

	resp = types.DashboardResponse{}
	f.get(t, "/api/dashboard-data?page=4", &resp)
	assert.NotNil(t, resp.EventLog)
	assert.Empty(t, resp.EventLog)

	resp = types.DashboardResponse{}
	require.Equal(t, http.StatusOK, f.get(t, "/api/dashboard-data?page=922337203685477581", &resp))
	assert.Equal(t, 922337203685477581, resp.CurrentPage)
	assert.NotNil(t, resp.EventLog)
	assert.Empty(t, resp.EventLog)

	resp = types.DashboardResponse{}
	f.get(t, "/api/dashboard-data?page=0", &resp)
	assert.Equal(t, 1, resp.CurrentPage)
	assert.Len(t, resp.EventLog, 20)
}

func TestDashboardStates(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	put := func(key string, v any) {
		b, err := storage.Encode(v)
		require.NoError(t, err)
		require.NoError(t, f.store.PutCurrent(ctx, key, b, f.now))
	}
	put("ssh_web1", true)
	put("web1_info", map[string]string{"uptime": "1 days, 0 hours, 0 minutes"})
	put("web1_ram_state", "critical")
	put("web1_disk_usage___state", "good")
	put("api_billing", false)

	var resp types.DashboardResponse
	require.Equal(t, http.StatusOK, f.get(t, "/api/dashboard-data", &resp))

	require.Len(t, resp.Servers, 1)
	s := resp.Servers[0]
	assert.True(t, s.Status)
	assert.Equal(t, "critical", s.RAMState)
	assert.Equal(t, "", s.LoadState)
	assert.Equal(t, map[string]string{"/": "good", "/data": ""}, s.DiskStates)
	assert.Equal(t, "1 days, 0 hours, 0 minutes", s.Info["uptime"])

	require.Len(t, resp.APIs, 1)
	assert.False(t, resp.APIs[0].Status)
	assert.Equal(t, "unknown", resp.OverallStatus)

	put("overall_status", "critical")
	f.get(t, "/api/dashboard-data", &resp)
	assert.Equal(t, "critical", resp.OverallStatus)
}

func TestHistory(t *testing.T) {
	f := newFixture(t, 20)
	ctx := context.Background()

	for _, ago := range []time.Duration{90 * time.Minute, 45 * time.Minute, 20 * time.Minute, 10 * time.Minute, 2 * time.Minute} {
		require.NoError(t, f.store.AppendHistory(ctx, f.now.Add(-ago), "web1_ram_state", []byte(`"good"`)))
	}

	var points []types.HistoryPoint
	require.Equal(t, http.StatusOK, f.get(t, "/api/historical-data?name=web1_ram_state", &points))
	require.Len(t, points, 4)
	assert.True(t, points[0].Timestamp.Before(points[3].Timestamp))
	assert.JSONEq(t, `"good"`, string(points[0].State))

	points = nil
	f.get(t, "/api/historical-data?name=web1_ram_state&minutes=15", &points)
	assert.Len(t, points, 2)

	var windows map[string][]types.HistoryPoint
	require.Equal(t, http.StatusOK, f.get(t, "/api/multi-historical-data?name=web1_ram_state", &windows))
	assert.Len(t, windows["5min"], 1)
	assert.Len(t, windows["15min"], 2)
	assert.Len(t, windows["30min"], 3)
	assert.Len(t, windows["60min"], 4)

	windows = nil
	require.Equal(t, http.StatusOK, f.get(t, "/api/server-historical-data?server=web1&resource=ram_state", &windows))
	assert.Len(t, windows["60min"], 4)

	points = nil
	f.get(t, "/api/historical-data?name=nothing", &points)
	assert.NotNil(t, points)
	assert.Empty(t, points)
}

func TestHistoryValidation(t *testing.T) {
	f := newFixture(t, 20)

	tests := []struct {
		name string
		url  string
	}{
		{"missing name", "/api/historical-data"},
		{"zero minutes", "/api/historical-data?name=x&minutes=0"},
		{"negative minutes", "/api/historical-data?name=x&minutes=-5"},
		{"non-numeric minutes", "/api/historical-data?name=x&minutes=abc"},
		{"multi missing name", "/api/multi-historical-data"},
		{"server missing resource", "/api/server-historical-data?server=web1"},
		{"server missing server", "/api/server-historical-data?resource=ram_state"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body types.ErrorResponse
			assert.Equal(t, http.StatusBadRequest, f.get(t, tt.url, &body))
			assert.NotEmpty(t, body.Error)
		})
	}
}
