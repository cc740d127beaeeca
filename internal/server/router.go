package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/procpool/internal/metrics"
	"github.com/loykin/procpool/internal/report"
)

// Router exposes the completion records of a run over HTTP.
// Endpoints:
//
//	GET {basePath}/results        every record collected so far
//	GET {basePath}/results?name=  records for one process name
//	GET {basePath}/healthz        liveness plus collected count
//	GET /metrics                  prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	results  *report.Collector
	basePath string
	started  time.Time
}

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(results *report.Collector, basePath string) *Router {
	return &Router{results: results, basePath: sanitizeBase(basePath), started: time.Now()}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	group := g.Group(r.basePath)
	group.GET("/results", r.handleResults)
	group.GET("/healthz", r.handleHealth)
	return g
}

// NewServer binds addr and serves this router in the background. Addr on
// the returned server is the bound address, so ":0" resolves to a real port.
func NewServer(addr, basePath string, results *report.Collector) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	r := NewRouter(results, basePath)
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("results server stopped", "addr", server.Addr, "error", err)
		}
	}()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	OK        bool    `json:"ok"`
	Completed int     `json:"completed"`
	UptimeSec float64 `json:"uptime_seconds"`
}

func (r *Router) handleResults(c *gin.Context) {
	name, ok := c.GetQuery("name")
	if !ok {
		writeJSON(c, http.StatusOK, r.results.Results())
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name must not be empty"})
		return
	}
	recs := r.results.Get(name)
	if len(recs) == 0 {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no completion recorded for " + name})
		return
	}
	writeJSON(c, http.StatusOK, recs)
}

func (r *Router) handleHealth(c *gin.Context) {
	writeJSON(c, http.StatusOK, healthResp{
		OK:        true,
		Completed: r.results.Len(),
		UptimeSec: time.Since(r.started).Seconds(),
	})
}
