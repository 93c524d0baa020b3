package client

import (
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/pairwatch/internal/server"
	"github.com/loykin/pairwatch/internal/watchdog"
)

type stubWatchdog struct {
	state watchdog.State
}

func (s *stubWatchdog) Name() string          { return "a" }
func (s *stubWatchdog) State() watchdog.State { return s.state }
func (s *stubWatchdog) Snapshot() watchdog.Status {
	return watchdog.Status{
		Name: "a", OwnPID: 10, OwnSlot: 0, TargetPath: "/opt/b/app",
		PeerPID: 20, PeerSlot: 1, PeerRunning: true, State: s.state.String(),
		Restarts: 2, LastRestart: time.Unix(1700000000, 0).UTC(),
	}
}
func (s *stubWatchdog) CheckCycle(context.Context) watchdog.CycleResult {
	if s.state == watchdog.StateStopped {
		return watchdog.CycleResult{Action: watchdog.ActionSkipped}
	}
	return watchdog.CycleResult{PeerPID: 20, Action: watchdog.ActionRestarted, NewPID: 21}
}

func newClient(t *testing.T, cfg Config) *Client {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func newTestServer(t *testing.T, wd *stubWatchdog, tls bool) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := server.NewRouter(wd, "/api").Handler()
	var ts *httptest.Server
	if tls {
		ts = httptest.NewTLSServer(h)
	} else {
		ts = httptest.NewServer(h)
	}
	t.Cleanup(ts.Close)
	return ts
}

func TestStatusAndCheck(t *testing.T) {
	wd := &stubWatchdog{state: watchdog.StateRunning}
	ts := newTestServer(t, wd, false)
	c := newClient(t, Config{BaseURL: ts.URL + "/api"})
	ctx := context.Background()

	require.True(t, c.IsReachable(ctx))

	st, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, st.PeerPID)
	assert.Equal(t, 1, st.PeerSlot)
	assert.True(t, st.PeerRunning)
	assert.Equal(t, "running", st.State)
	assert.Equal(t, 2, st.Restarts)
	assert.True(t, st.LastRestart.Equal(time.Unix(1700000000, 0)))

	res, err := c.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, "restarted", res.Action)
	assert.Equal(t, 21, res.NewPID)

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.True(t, h.OK)
	assert.Equal(t, "a", h.Name)
}

func TestStoppedWatchdog(t *testing.T) {
	wd := &stubWatchdog{state: watchdog.StateStopped}
	c := newClient(t, Config{BaseURL: newTestServer(t, wd, false).URL + "/api"})
	ctx := context.Background()

	h, err := c.Health(ctx)
	require.NoError(t, err)
	assert.False(t, h.OK)
	assert.Equal(t, "stopped", h.State)

	_, err = c.Check(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")

	// usage route is not mounted without a collector
	_, err = c.Usage(ctx)
	assert.EqualError(t, err, "HTTP 404")
}

func TestUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	c := newClient(t, Config{BaseURL: url, Timeout: time.Second})
	assert.False(t, c.IsReachable(context.Background()))
	_, err := c.Status(context.Background())
	assert.Error(t, err)
}

func TestInsecureTLS(t *testing.T) {
	wd := &stubWatchdog{state: watchdog.StateRunning}
	ts := newTestServer(t, wd, true)

	strict := newClient(t, Config{BaseURL: ts.URL + "/api"})
	_, err := strict.Status(context.Background())
	assert.Error(t, err, "self-signed certificate must be rejected by default")

	c := newClient(t, Config{BaseURL: ts.URL + "/api", Insecure: true})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", st.Name)
}

func TestPinnedCACert(t *testing.T) {
	wd := &stubWatchdog{state: watchdog.StateRunning}
	ts := newTestServer(t, wd, true)

	ca := filepath.Join(t.TempDir(), "ca.pem")
	block := &pem.Block{Type: "CERTIFICATE", Bytes: ts.Certificate().Raw}
	require.NoError(t, os.WriteFile(ca, pem.EncodeToMemory(block), 0o600))

	c := newClient(t, Config{BaseURL: ts.URL + "/api", CACert: ca})
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, st.OwnPID)
}

func TestDefaults(t *testing.T) {
	c := newClient(t, Config{BaseURL: "http://x/api/"})
	assert.Equal(t, "http://x/api", c.base)
	assert.Equal(t, 10*time.Second, c.http.Timeout)
	assert.Equal(t, "http://127.0.0.1:8089/api", DefaultConfig().BaseURL)

	_, err := New(Config{CACert: "/definitely/missing.pem"})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a cert"), 0o600))
	_, err = New(Config{CACert: bad})
	assert.ErrorContains(t, err, "no PEM")
}
