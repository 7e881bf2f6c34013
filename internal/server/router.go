// Package server exposes the supervisor control surface over localhost HTTP:
// status, data-source selection, start/stop, a WebSocket event stream and
// optionally Prometheus metrics.
package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/corescout/scoutd/internal/metrics"
	"github.com/corescout/scoutd/internal/supervisor"
	"github.com/corescout/scoutd/internal/worker"
)

// DefaultBasePath is used when NewRouter is given an empty base path. Pass
// "/" to mount at the root.
const DefaultBasePath = "/api/v1"

// Router provides embeddable HTTP handlers for the supervisor.
// Endpoints under {basePath}:
//
//	GET  /status            coordination state + worker detail
//	GET  /datasource        current selection
//	POST /datasource        body: {"path": ...}; validates, then restarts
//	POST /start             body: {"allow_no_data_source": bool} (optional)
//	POST /stop              query: wait=2s (optional grace override)
//	GET  /events            WebSocket stream of lifecycle events
//	GET  /metrics           Prometheus exposition (when ServeMetrics was called)
type Router struct {
	sup      *supervisor.Supervisor
	sampler  *metrics.Sampler
	basePath string
	metrics  bool
}

// NewRouter constructs a Router for sup mounted under basePath.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	if len(basePath) == 0 {
		basePath = DefaultBasePath
	}
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// ServeMetrics mounts GET {basePath}/metrics.
func (r *Router) ServeMetrics() { r.metrics = true }

// AttachSampler includes the latest resource sample in status responses.
func (r *Router) AttachSampler(sm *metrics.Sampler) { r.sampler = sm }

// Handler returns an http.Handler powered by gin that can be mounted in any
// server or mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/datasource", r.handleGetDataSource)
	group.POST("/datasource", r.handleSetDataSource)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.GET("/events", r.handleEvents)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// Serve starts a standalone HTTP server for this router on addr. The
// listener is bound before returning so address errors surface here rather
// than in a goroutine; call Shutdown or Close on the returned server to stop
// it.
func (r *Router) Serve(addr string) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// NewServer serves a default router for sup on addr.
func NewServer(addr, basePath string, sup *supervisor.Supervisor) (*http.Server, error) {
	return NewRouter(sup, basePath).Serve(addr)
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type dataSourceBody struct {
	Path string `json:"path"`
}

// statusResp is the full status document: coordination state plus, when
// available, the current worker process and its latest resource sample.
type statusResp struct {
	supervisor.State
	Worker *worker.Status  `json:"worker,omitempty"`
	Sample *metrics.Sample `json:"sample,omitempty"`
}

func (r *Router) handleStatus(c *gin.Context) {
	resp := statusResp{State: r.sup.Snapshot()}
	if st, ok := r.sup.WorkerStatus(); ok {
		resp.Worker = &st
	}
	if r.sampler != nil && r.sampler.Enabled() {
		if s, ok := r.sampler.Latest(); ok {
			resp.Sample = &s
		}
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleGetDataSource(c *gin.Context) {
	writeJSON(c, http.StatusOK, dataSourceBody{Path: r.sup.DataSourcePath()})
}

func (r *Router) handleSetDataSource(c *gin.Context) {
	var body dataSourceBody
	if err := c.ShouldBindJSON(&body); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeAbsPath(body.Path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid path: must be absolute without traversal"})
		return
	}
	res, err := r.sup.SetDataSourcePath(body.Path)
	var verr *supervisor.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: verr.Error()})
	case errors.Is(err, supervisor.ErrRestarting):
		writeJSON(c, http.StatusConflict, res)
	case errors.Is(err, supervisor.ErrClosed):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, res)
	}
}

func (r *Router) handleStart(c *gin.Context) {
	var opts supervisor.StartOptions
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
			return
		}
	}
	res, err := r.sup.RequestStart(opts)
	switch {
	case errors.Is(err, supervisor.ErrClosed):
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	case res.Status == supervisor.StatusNoDataSource:
		writeJSON(c, http.StatusConflict, res)
	default:
		writeJSON(c, http.StatusOK, res)
	}
}

func (r *Router) handleStop(c *gin.Context) {
	var wait time.Duration
	if waitStr := c.Query("wait"); waitStr != "" {
		d, err := time.ParseDuration(waitStr)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait: " + err.Error()})
			return
		}
		wait = d
	}
	if err := r.sup.StopWait(wait); err != nil {
		if errors.Is(err, supervisor.ErrClosed) {
			writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
