package core

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"fleetmon/internal/config"
	"fleetmon/internal/metrics"
	"fleetmon/internal/probe"
	"fleetmon/internal/probe/probetest"
	"fleetmon/internal/status"
	"fleetmon/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *recordingNotifier) Notify(ctx context.Context, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *recordingNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

type testEnv struct {
	engine   *Engine
	store    *storage.Storage
	dialer   *probetest.Dialer
	notifier *recordingNotifier
	clock    time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store, err := storage.New(config.StorageConfig{
		Path:         filepath.Join(t.TempDir(), "events.db"),
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		BusyRetries:  3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	env := &testEnv{
		store:    store,
		dialer:   probetest.NewDialer(),
		notifier: &recordingNotifier{},
		clock:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := &config.Config{
		Scheduler: config.SchedulerConfig{WorkerCount: 4, SweepTimeout: time.Minute},
	}
	prober := probe.NewProber(env.dialer, probe.NewHTTPProber(2*time.Second), 5*time.Second)
	env.engine = NewEngine(cfg, store, prober, env.notifier)
	env.engine.now = func() time.Time { return env.clock }
	return env
}

// scriptServer makes server answer every metric command.
func (env *testEnv) scriptServer(server string, load string, usedMB int, disks map[string]string) {
	env.dialer.SetOutput(server, metrics.UptimeCommand, "93784.51 100.00")
	env.dialer.SetOutput(server, metrics.LoadAvgCommand, load+" 0.10 0.05 1/100 42")
	env.dialer.SetOutput(server, metrics.MemoryCommand, strconv.Itoa(usedMB)+" 1000")
	for mount, pct := range disks {
		env.dialer.SetOutput(server, metrics.DiskCommand(mount),
			"Filesystem Size Used Avail Use% Mounted on\n/dev/sda1 50G 21G 27G "+pct+" "+mount+"\n")
	}
}

func testInventory(servers []config.Server, apis []config.API) *config.Inventory {
	return &config.Inventory{
		Servers: servers,
		APIs:    apis,
		General: config.General{
			Thresholds: map[string]config.Threshold{
				config.ClassLoad: {Warning: 0.7, Critical: 1.0},
				config.ClassRAM:  {Warning: 70, Critical: 85},
				config.ClassDisk: {Warning: 70, Critical: 85},
			},
			Notifications:     config.NotificationsConfig{Enabled: true},
			BackgroundService: config.BackgroundServiceConfig{Enabled: true, CheckInterval: 5},
			LogRetentionDays:  30,
			HousekeepingTime:  "00:00",
			Dashboard:         config.DashboardConfig{MaxEventsDisplayed: 20},
		},
	}
}

func (env *testEnv) current(t *testing.T, key string) string {
	t.Helper()
	v, ok, err := env.store.GetCurrent(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "missing key %s", key)
	return string(v)
}

func (env *testEnv) events(t *testing.T, substr string) []string {
	t.Helper()
	rows, err := env.store.QueryEvents(context.Background(), 1000, 0)
	require.NoError(t, err)
	var out []string
	for _, r := range rows {
		if strings.Contains(r.Message, substr) {
			out = append(out, r.Message)
		}
	}
	return out
}

func countContaining(messages []string, substr string) int {
	n := 0
	for _, m := range messages {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func TestRunSweepRAMScenario(t *testing.T) {
	env := newTestEnv(t)
	inv := testInventory([]config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}}}, nil)
	ctx := context.Background()

	// Sweep 1: 60% RAM
	env.scriptServer("web1", "0.10", 600, nil)
	snap, err := env.engine.RunSweep(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, status.Good, snap.Overall)
	assert.Equal(t, `"good"`, env.current(t, "web1_ram_state"))
	assert.Equal(t, []string{"RAM usage of web1 changed to good: 60.00%"}, env.events(t, "RAM usage"))

	// Sweep 2: 90% RAM
	env.clock = env.clock.Add(5 * time.Minute)
	env.scriptServer("web1", "0.10", 900, nil)
	snap, err = env.engine.RunSweep(ctx, inv)
	require.NoError(t, err)
	assert.Equal(t, status.Critical, snap.Overall)
	assert.Equal(t, `"critical"`, env.current(t, "web1_ram_state"))
	assert.Len(t, env.events(t, "RAM usage"), 2)
	assert.Equal(t, 1, countContaining(env.notifier.Messages(), "RAM usage of web1 changed to critical: 90.00%"))

	// Sweep 3: 91% RAM, still critical
	env.clock = env.clock.Add(5 * time.Minute)
	env.scriptServer("web1", "0.10", 910, nil)
	_, err = env.engine.RunSweep(ctx, inv)
	require.NoError(t, err)
	assert.Len(t, env.events(t, "RAM usage"), 2)
	assert.Equal(t, 2, countContaining(env.notifier.Messages(), "RAM usage"))

	hist, err := env.store.QueryHistory(ctx, "web1_ram_state", env.clock.Add(-time.Hour), env.clock)
	require.NoError(t, err)
	assert.Len(t, hist, 3)
}

func TestRunSweepIsolatesTargets(t *testing.T) {
	env := newTestEnv(t)
	inv := testInventory([]config.Server{
		{Name: "a", SSH: config.SSHTarget{Hostname: "a"}, Disks: []string{"/"}},
		{Name: "b", SSH: config.SSHTarget{Hostname: "b"}},
		{Name: "c", SSH: config.SSHTarget{Hostname: "c"}, Disks: []string{"/"}},
	}, nil)

	env.scriptServer("a", "0.10", 100, map[string]string{"/": "40%"})
	env.scriptServer("c", "0.80", 100, map[string]string{"/": "90%"})

	snap, err := env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)

	assert.Equal(t, "true", env.current(t, "ssh_a"))
	assert.Equal(t, "false", env.current(t, "ssh_b"))
	assert.Equal(t, "true", env.current(t, "ssh_c"))
	assert.Equal(t, `"good"`, env.current(t, "a_disk_usage___state"))
	assert.Equal(t, `"critical"`, env.current(t, "c_disk_usage___state"))
	assert.Equal(t, `"warning"`, env.current(t, "c_load_state"))

	_, ok, err := env.store.GetCurrent(context.Background(), "b_ram_state")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, status.Critical, snap.Overall)
	assert.Equal(t, false, snap.Values["ssh_b"])
	assert.Equal(t, `"critical"`, env.current(t, OverallKey))
	assert.Equal(t, 1, countContaining(env.notifier.Messages(), "SSH connection to b changed to unreachable"))
	assert.Equal(t, 1, env.dialer.Dials("b"))
	assert.Equal(t, 2, env.dialer.Closed())
}

func TestRunSweepDeadlineDegradesRemainingTargets(t *testing.T) {
	env := newTestEnv(t)
	env.engine.config = config.SchedulerConfig{WorkerCount: 1, SweepTimeout: 200 * time.Millisecond}
	inv := testInventory([]config.Server{
		{Name: "hung", SSH: config.SSHTarget{Hostname: "hung"}, Disks: []string{"/"}},
		{Name: "web2", SSH: config.SSHTarget{Hostname: "web2"}},
	}, nil)
	env.dialer.SetHost("hung", probetest.Host{Hang: true})
	env.scriptServer("web2", "0.10", 100, nil)

	started := time.Now()
	snap, err := env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)
	assert.Less(t, time.Since(started), 5*time.Second)

	assert.Equal(t, "true", env.current(t, "ssh_hung"))
	assert.Equal(t, "false", env.current(t, "ssh_web2"))
	assert.Equal(t, `"critical"`, env.current(t, OverallKey))
	assert.Equal(t, status.Critical, snap.Overall)

	_, ok, err := env.store.GetCurrent(context.Background(), "hung_ram_state")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, snap.Values, "hung_ram_state")
	assert.Equal(t, false, snap.Values["ssh_web2"])
	assert.Equal(t, 1, env.dialer.Closed())

	_, lastErr := env.engine.LastSweep()
	assert.NoError(t, lastErr)

	// the next sweep without the stall records web2 normally
	env.dialer.SetHost("hung", probetest.Host{DialErr: assert.AnError})
	env.clock = env.clock.Add(time.Minute)
	_, err = env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)
	assert.Equal(t, "true", env.current(t, "ssh_web2"))
	assert.Equal(t, `"good"`, env.current(t, "web2_ram_state"))
}

func TestRunSweepInfoBlob(t *testing.T) {
	env := newTestEnv(t)
	inv := testInventory([]config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}, Disks: []string{"/"}}}, nil)
	env.scriptServer("web1", "0.25", 500, map[string]string{"/": "42%"})

	_, err := env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)

	var info map[string]string
	require.NoError(t, storage.Decode([]byte(env.current(t, "web1_info")), &info))
	assert.Equal(t, "1 days, 2 hours, 3 minutes", info["uptime"])
	assert.Equal(t, "0.25, 0.10, 0.05", info["load"])
	assert.Equal(t, "50.00% (500 MB / 1000 MB)", info["ram_usage"])
	assert.Equal(t, "42% (21G / 50G)", info["disk_usage__"])

	hist, err := env.store.QueryHistory(context.Background(), "web1_info", env.clock.Add(-time.Hour), env.clock)
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestRunSweepAPIs(t *testing.T) {
	env := newTestEnv(t)

	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	const internalURL = "http://localhost:9090/health"
	inv := testInventory(
		[]config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}}},
		[]config.API{
			{Name: "public", URL: up.URL},
			{Name: "billing", URL: down.URL},
			{Name: "internal", URL: internalURL, RequiresSSH: true, Server: "web1"},
		},
	)
	env.scriptServer("web1", "0.10", 100, nil)
	env.dialer.SetOutput("web1", probe.TunnelCommand(internalURL), "200")

	snap, err := env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)

	assert.Equal(t, "true", env.current(t, "api_public"))
	assert.Equal(t, "false", env.current(t, "api_billing"))
	assert.Equal(t, "true", env.current(t, "api_internal"))
	assert.Equal(t, status.Critical, snap.Overall)
	assert.Equal(t, []string{"The billing API state changed to inactive"}, env.events(t, "billing"))
}

func TestRunSweepRespectsAlertSwitches(t *testing.T) {
	env := newTestEnv(t)
	inv := testInventory([]config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}}}, nil)
	off := false
	ram := inv.General.Thresholds[config.ClassRAM]
	ram.Alerts = &off
	inv.General.Thresholds[config.ClassRAM] = ram

	env.scriptServer("web1", "0.10", 950, nil)
	_, err := env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)

	assert.Len(t, env.events(t, "RAM usage"), 1)
	assert.Zero(t, countContaining(env.notifier.Messages(), "RAM usage"))
	assert.Equal(t, 1, countContaining(env.notifier.Messages(), "SSH connection"))

	inv.General.Notifications.Enabled = false
	env.dialer.SetHost("web1", probetest.Host{DialErr: assert.AnError})
	env.clock = env.clock.Add(time.Minute)
	_, err = env.engine.RunSweep(context.Background(), inv)
	require.NoError(t, err)
	assert.Len(t, env.events(t, "SSH connection to web1 changed to unreachable"), 1)
	assert.Zero(t, countContaining(env.notifier.Messages(), "unreachable"))
}

func TestRunSweepOverallEventOnlyOnChange(t *testing.T) {
	env := newTestEnv(t)
	inv := testInventory([]config.Server{{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}}}, nil)
	env.scriptServer("web1", "0.10", 100, nil)

	for i := 0; i < 3; i++ {
		env.clock = env.clock.Add(time.Minute)
		_, err := env.engine.RunSweep(context.Background(), inv)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"Overall status changed to good"}, env.events(t, "Overall"))
	assert.Zero(t, countContaining(env.notifier.Messages(), "Overall"))
}

func TestRunSweepRejectsOverlap(t *testing.T) {
	env := newTestEnv(t)
	env.engine.sweepMu.Lock()
	assert.True(t, env.engine.IsRunning())

	_, err := env.engine.RunSweep(context.Background(), testInventory(nil, nil))
	assert.ErrorIs(t, err, ErrSweepInProgress)

	env.engine.sweepMu.Unlock()
	assert.False(t, env.engine.IsRunning())
	snap, err := env.engine.RunSweep(context.Background(), testInventory(nil, nil))
	require.NoError(t, err)
	assert.Equal(t, status.Good, snap.Overall)
}

func TestRunSweepFailsOnStoreError(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.store.Close())

	_, err := env.engine.RunSweep(context.Background(), testInventory(nil, nil))
	var storeErr *storage.StoreError
	require.ErrorAs(t, err, &storeErr)

	_, lastErr := env.engine.LastSweep()
	assert.Error(t, lastErr)
}

func TestPruneEvents(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.store.AppendEvent(ctx, env.clock.Add(-40*24*time.Hour), "old"))
	require.NoError(t, env.store.AppendEvent(ctx, env.clock.Add(-time.Hour), "recent"))

	n, err := env.engine.PruneEvents(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, []string{"recent"}, env.events(t, ""))
}

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)
