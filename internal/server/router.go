package server

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/beta0629/stock-trading-system-sub001/internal/metrics"
	"github.com/beta0629/stock-trading-system-sub001/internal/monitor"
)

// Router provides embeddable read-only HTTP handlers over a running
// supervisor. It never mutates supervision state; restarts stay the
// loop's business.
// Endpoints:
//   GET {basePath}/status     all targets, or a single one via ?name=...
//   GET {basePath}/healthz    liveness of the status server itself
//   GET {basePath}/resources  current host usage sample
//   GET {basePath}/metrics    prometheus exposition
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	mon      *monitor.Monitor
	basePath string
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/status, /abc/healthz.
func NewRouter(mon *monitor.Monitor, basePath string) *Router {
	bp := sanitizeBase(basePath)
	return &Router{mon: mon, basePath: bp}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/resources", r.handleResources)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// A non-nil tlsConf switches the listener to HTTPS; certificates come from
// the config's GetCertificate. The caller shuts the server down via
// http.Server's Close or Shutdown.
func NewServer(addr, basePath string, mon *monitor.Monitor, tlsConf *tls.Config) (*http.Server, error) {
	r := NewRouter(mon, basePath)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsConf != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	sts := r.mon.Status()
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, sts)
		return
	}
	for _, st := range sts {
		if st.Name == name {
			writeJSON(c, http.StatusOK, st)
			return
		}
	}
	writeJSON(c, http.StatusBadRequest, errorResp{Error: "unknown target: " + name})
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleResources(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.mon.Resources())
}
