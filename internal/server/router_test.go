package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/watchdog"
)

type fakeWatchdog struct {
	state  watchdog.State
	status watchdog.Status
	result watchdog.CycleResult
	checks int
	ctxErr error
}

func (f *fakeWatchdog) Name() string              { return f.status.Name }
func (f *fakeWatchdog) State() watchdog.State     { return f.state }
func (f *fakeWatchdog) Snapshot() watchdog.Status { return f.status }
func (f *fakeWatchdog) CheckCycle(ctx context.Context) watchdog.CycleResult {
	f.checks++
	f.ctxErr = ctx.Err()
	return f.result
}

func setupRouter(t *testing.T, wd Watchdog, base string, opts ...RouterOption) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(wd, base, opts...).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	wd := &fakeWatchdog{state: watchdog.StateRunning, status: watchdog.Status{
		Name: "a", OwnPID: 10, OwnSlot: 0, TargetPath: "/opt/b/app", PeerPID: 20, PeerSlot: 1, PeerRunning: true,
	}}
	h := setupRouter(t, wd, "/abc")
	rec := doReq(t, h, http.MethodGet, "/abc/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for k, want := range map[string]any{
		"ownProcessId": 10.0, "ownSlotIndex": 0.0, "targetPath": "/opt/b/app",
		"peerProcessId": 20.0, "peerSlotIndex": 1.0, "peerRunning": true,
	} {
		if got[k] != want {
			t.Fatalf("%s = %v, want %v", k, got[k], want)
		}
	}
	if _, ok := got["lastRestart"]; ok {
		t.Fatalf("zero lastRestart should be omitted: %v", got)
	}
}

func TestCheckRunsCycle(t *testing.T) {
	wd := &fakeWatchdog{state: watchdog.StateRunning, result: watchdog.CycleResult{
		PeerPID: 1234, Action: watchdog.ActionRestarted, NewPID: 4321, Redeploy: "restored",
	}}
	h := setupRouter(t, wd, "")
	if rec := doReq(t, h, http.MethodGet, "/check"); rec.Code != http.StatusNotFound && rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET /check should not be routed, got %d", rec.Code)
	}
	rec := doReq(t, h, http.MethodPost, "/check")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var res watchdog.CycleResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Action != watchdog.ActionRestarted || res.NewPID != 4321 || res.PeerPID != 1234 {
		t.Fatalf("unexpected result %+v", res)
	}
	if wd.checks != 1 {
		t.Fatalf("expected one check, got %d", wd.checks)
	}
}

func TestCheckWhileNotRunningConflicts(t *testing.T) {
	for _, st := range []watchdog.State{watchdog.StateInitializing, watchdog.StateStopping, watchdog.StateStopped} {
		wd := &fakeWatchdog{state: st, result: watchdog.CycleResult{Action: watchdog.ActionSkipped}}
		h := setupRouter(t, wd, "/api")
		rec := doReq(t, h, http.MethodPost, "/api/check")
		if rec.Code != http.StatusConflict {
			t.Fatalf("state %s: expected 409, got %d", st, rec.Code)
		}
		if wd.checks != 0 {
			t.Fatalf("state %s: no cycle may run, got %d", st, wd.checks)
		}
	}
}

func TestCheckSurvivesClientDisconnect(t *testing.T) {
	wd := &fakeWatchdog{state: watchdog.StateRunning, result: watchdog.CycleResult{Action: watchdog.ActionRestarted, NewPID: 7}}
	h := setupRouter(t, wd, "/api")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/check", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if wd.checks != 1 {
		t.Fatalf("expected one check, got %d", wd.checks)
	}
	if wd.ctxErr != nil {
		t.Fatalf("cycle context must not follow the request: %v", wd.ctxErr)
	}
}

func TestHealthz(t *testing.T) {
	cases := []struct {
		state watchdog.State
		code  int
	}{
		{watchdog.StateRunning, http.StatusOK},
		{watchdog.StateInitializing, http.StatusServiceUnavailable},
		{watchdog.StateStopping, http.StatusServiceUnavailable},
		{watchdog.StateStopped, http.StatusServiceUnavailable},
	}
	for _, c := range cases {
		wd := &fakeWatchdog{state: c.state, status: watchdog.Status{Name: "a"}}
		rec := doReq(t, setupRouter(t, wd, "/api"), http.MethodGet, "/api/healthz")
		if rec.Code != c.code {
			t.Fatalf("state %s: expected %d, got %d", c.state, c.code, rec.Code)
		}
		var hr healthResp
		if err := json.Unmarshal(rec.Body.Bytes(), &hr); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if hr.State != c.state.String() || hr.Name != "a" {
			t.Fatalf("unexpected health body %+v", hr)
		}
	}
}

func TestOptionalRoutes(t *testing.T) {
	wd := &fakeWatchdog{state: watchdog.StateRunning, status: watchdog.Status{Name: "a"}}
	h := setupRouter(t, wd, "/api")
	if rec := doReq(t, h, http.MethodGet, "/api/usage"); rec.Code != http.StatusNotFound {
		t.Fatalf("usage without collector should be 404, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodGet, "/api/metrics"); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics without option should be 404, got %d", rec.Code)
	}

	u := metrics.NewPeerUsageCollector(metrics.PeerUsageConfig{Enabled: true, MaxHistory: 3})
	h = setupRouter(t, wd, "/api", WithPeerUsage(u), WithMetrics())
	rec := doReq(t, h, http.MethodGet, "/api/usage")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var samples []metrics.PeerUsage
	if err := json.Unmarshal(rec.Body.Bytes(), &samples); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(samples) != 0 {
		t.Fatalf("expected no samples, got %d", len(samples))
	}
	if rec := doReq(t, h, http.MethodGet, "/api/metrics"); rec.Code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", rec.Code)
	}
}

func TestRouterWithController(t *testing.T) {
	dir := t.TempDir()
	rec := filepath.Join(dir, "pair.rec")
	if err := os.WriteFile(rec, []byte("1234;5678"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := watchdog.DefaultConfig()
	cfg.Name = "b"
	cfg.OwnSlot = 1
	cfg.RecordPath = rec
	cfg.Target = watchdog.Target{Path: "/opt/a/app", Execution: "/opt/a/app", Slot: 0}
	cfg.GraceDelay = time.Hour
	cfg.DisableAnnounce = true
	c, err := watchdog.New(cfg,
		watchdog.WithOwnPID(5678),
		watchdog.WithProber(watchdog.ProberFunc(func(_ context.Context, pid int) bool { return pid == 1234 })),
	)
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	h := setupRouter(t, c, "/api")

	if resp := doReq(t, h, http.MethodPost, "/api/check"); resp.Code != http.StatusConflict {
		t.Fatalf("check before start: expected 409, got %d", resp.Code)
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { c.Stop(); c.Wait() })

	resp := doReq(t, h, http.MethodPost, "/api/check")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var res watchdog.CycleResult
	if err := json.Unmarshal(resp.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Action != watchdog.ActionNone || res.PeerPID != 1234 || !res.PeerAlive {
		t.Fatalf("unexpected result %+v", res)
	}

	resp = doReq(t, h, http.MethodGet, "/api/status")
	var st watchdog.Status
	if err := json.Unmarshal(resp.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.PeerPID != 1234 || !st.PeerRunning || st.OwnPID != 5678 || st.LastCheck.IsZero() {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestNewServerServes(t *testing.T) {
	wd := &fakeWatchdog{state: watchdog.StateRunning, status: watchdog.Status{Name: "a"}}
	srv, err := NewServer("127.0.0.1:0", "/api", wd)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	defer func() { _ = srv.Close() }()
	if srv.Handler == nil || srv.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("server not configured: %+v", srv)
	}
}

func TestNewTLSServerRequiresConfig(t *testing.T) {
	_, err := NewTLSServer("127.0.0.1:0", "/api", &fakeWatchdog{}, nil)
	if err == nil {
		t.Fatal("expected error without tls config")
	}
}
