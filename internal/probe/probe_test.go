package probe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fleetmon/internal/config"
	"fleetmon/internal/probe"
	"fleetmon/internal/probe/probetest"

	"github.com/kevinburke/ssh_config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveEndpoint(t *testing.T) {
	uc, err := ssh_config.Decode(strings.NewReader(`
Host web1
  HostName 10.0.0.5
  User deploy
  Port 2222
  ProxyCommand ssh -W %h:%p bastion

Host db1
  HostName db1.internal
`))
	require.NoError(t, err)

	t.Run("ssh config wins", func(t *testing.T) {
		ep := probe.ResolveEndpoint(uc, config.SSHTarget{Hostname: "web1", User: "root", Port: 22})
		assert.Equal(t, "10.0.0.5", ep.Host)
		assert.Equal(t, "deploy", ep.User)
		assert.Equal(t, 2222, ep.Port)
		assert.Equal(t, "ssh -W %h:%p bastion", ep.ProxyCommand)
	})

	t.Run("target fills gaps", func(t *testing.T) {
		ep := probe.ResolveEndpoint(uc, config.SSHTarget{Hostname: "db1", User: "admin", Port: 2200, IdentityFile: "/keys/db"})
		assert.Equal(t, "db1.internal", ep.Host)
		assert.Equal(t, "admin", ep.User)
		assert.Equal(t, 2200, ep.Port)
		assert.Equal(t, "/keys/db", ep.IdentityFile)
		assert.Empty(t, ep.ProxyCommand)
	})

	t.Run("no ssh config", func(t *testing.T) {
		t.Setenv("USER", "ops")
		ep := probe.ResolveEndpoint(nil, config.SSHTarget{Hostname: "cache1"})
		assert.Equal(t, "cache1", ep.Host)
		assert.Equal(t, "ops", ep.User)
		assert.Equal(t, 22, ep.Port)
	})
}

func TestHTTPProber(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "fleetmon/1.0", r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	created := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer created.Close()

	p := probe.NewHTTPProber(2 * time.Second)
	ctx := context.Background()

	assert.NoError(t, p.Probe(ctx, ok.URL))

	err := p.Probe(ctx, failing.URL)
	var transportErr *probe.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, http.StatusInternalServerError, transportErr.StatusCode)

	require.Error(t, p.Probe(ctx, created.URL))

	err = p.Probe(ctx, "http://127.0.0.1:1")
	require.ErrorAs(t, err, &transportErr)
	assert.Error(t, transportErr.Unwrap())
}

func TestTunnelCommand(t *testing.T) {
	assert.Equal(t,
		`curl -s -o /dev/null -w '%{http_code}' 'http://localhost:8080/health'`,
		probe.TunnelCommand("http://localhost:8080/health"))
	assert.Equal(t,
		`curl -s -o /dev/null -w '%{http_code}' 'http://x/?q='\''a'\'''`,
		probe.TunnelCommand("http://x/?q='a'"))
}

func TestCheckAPI(t *testing.T) {
	const url = "http://localhost:8080/health"

	inv := &config.Inventory{
		Servers: []config.Server{
			{Name: "web1", SSH: config.SSHTarget{Hostname: "web1"}},
			{Name: "web2", SSH: config.SSHTarget{Hostname: "web2"}},
		},
	}

	dialer := probetest.NewDialer()
	dialer.SetOutput("web1", probe.TunnelCommand(url), "200")
	dialer.SetOutput("web2", probe.TunnelCommand(url), "503")

	p := probe.NewProber(dialer, probe.NewHTTPProber(time.Second), time.Second)
	ctx := context.Background()

	up, err := p.CheckAPI(ctx, config.API{Name: "internal", URL: url, RequiresSSH: true, Server: "web1"}, inv)
	require.NoError(t, err)
	assert.True(t, up)

	up, err = p.CheckAPI(ctx, config.API{Name: "internal", URL: url, RequiresSSH: true, Server: "web2"}, inv)
	assert.False(t, up)
	var transportErr *probe.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 503, transportErr.StatusCode)

	up, err = p.CheckAPI(ctx, config.API{Name: "ghost", URL: url, RequiresSSH: true, Server: "nowhere"}, inv)
	assert.False(t, up)
	assert.Error(t, err)

	dialer.SetHost("web1", probetest.Host{DialErr: errors.New("connection refused")})
	up, err = p.CheckAPI(ctx, config.API{Name: "internal", URL: url, RequiresSSH: true, Server: "web1"}, inv)
	assert.False(t, up)
	var connErr *probe.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "web1", connErr.Server)

	assert.Equal(t, 2, dialer.Closed())
}

func TestConnectBoundsCommands(t *testing.T) {
	dialer := probetest.NewDialer()
	dialer.SetOutput("web1", "uptime", "up")

	p := probe.NewProber(dialer, probe.NewHTTPProber(time.Second), time.Second)
	sess, err := p.Connect(context.Background(), config.Server{Name: "web1"})
	require.NoError(t, err)
	defer sess.Close()

	res, err := sess.Run(context.Background(), "uptime")
	require.NoError(t, err)
	assert.Equal(t, "up", res.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sess.Run(ctx, "uptime")
	assert.ErrorIs(t, err, context.Canceled)
}
