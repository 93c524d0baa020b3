package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/pairwatch/internal/metrics"
	"github.com/loykin/pairwatch/internal/watchdog"
)

// Watchdog is the part of a watchdog.Controller the router serves.
type Watchdog interface {
	Name() string
	State() watchdog.State
	Snapshot() watchdog.Status
	CheckCycle(ctx context.Context) watchdog.CycleResult
}

// Router provides embeddable HTTP handlers for one watchdog.
// Endpoints:
//
//	GET  {basePath}/status   snapshot of the watchdog and its peer
//	POST {basePath}/check    run one check cycle now and return its result
//	GET  {basePath}/healthz  200 while the loop is running, 503 otherwise
//	GET  {basePath}/usage    sampled peer cpu/memory history (when enabled)
//	GET  {basePath}/metrics  prometheus exposition (when enabled)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	wd       Watchdog
	basePath string
	usage    *metrics.PeerUsageCollector
	metrics  bool
}

type RouterOption func(*Router)

// WithPeerUsage serves the collector's history under /usage.
func WithPeerUsage(u *metrics.PeerUsageCollector) RouterOption {
	return func(r *Router) { r.usage = u }
}

// WithMetrics mounts the prometheus handler under /metrics.
func WithMetrics() RouterOption { return func(r *Router) { r.metrics = true } }

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/check, /abc/healthz.
func NewRouter(wd Watchdog, basePath string, opts ...RouterOption) *Router {
	r := &Router{wd: wd, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/check", r.handleCheck)
	group.GET("/healthz", r.handleHealth)
	if r.usage.Enabled() {
		group.GET("/usage", r.handleUsage)
	}
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down with the returned server's Shutdown or Close.
func NewServer(addr, basePath string, wd Watchdog, opts ...RouterOption) (*http.Server, error) {
	server := newHTTPServer(addr, basePath, wd, opts...)
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer is NewServer over HTTPS; certificates come from tlsCfg.
func NewTLSServer(addr, basePath string, wd Watchdog, tlsCfg *tls.Config, opts ...RouterOption) (*http.Server, error) {
	if tlsCfg == nil {
		return nil, errors.New("tls config is required")
	}
	server := newHTTPServer(addr, basePath, wd, opts...)
	server.TLSConfig = tlsCfg
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

func newHTTPServer(addr, basePath string, wd Watchdog, opts ...RouterOption) *http.Server {
	r := NewRouter(wd, basePath, opts...)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second, // a check may relaunch the peer
		IdleTimeout:       60 * time.Second,
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK    bool   `json:"ok"`
	Name  string `json:"name"`
	State string `json:"state"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.wd.Snapshot())
}

// handleCheck runs a cycle only on a running watchdog: before Start the
// controller does no I/O. The cycle outlives a disconnecting client so a
// restart is never cut short between launch and record write.
func (r *Router) handleCheck(c *gin.Context) {
	if st := r.wd.State(); st != watchdog.StateRunning {
		writeJSON(c, http.StatusConflict, errorResp{Error: "watchdog is " + st.String()})
		return
	}
	res := r.wd.CheckCycle(context.WithoutCancel(c.Request.Context()))
	if res.Action == watchdog.ActionSkipped {
		writeJSON(c, http.StatusConflict, errorResp{Error: "watchdog is " + r.wd.State().String()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleHealth(c *gin.Context) {
	st := r.wd.State()
	resp := healthResp{OK: st == watchdog.StateRunning, Name: r.wd.Name(), State: st.String()}
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(c, code, resp)
}

func (r *Router) handleUsage(c *gin.Context) {
	h := r.usage.History(r.wd.Name())
	if h == nil {
		h = []metrics.PeerUsage{}
	}
	writeJSON(c, http.StatusOK, h)
}
