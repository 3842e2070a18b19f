package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/botvisor/internal/metrics"
	"github.com/loykin/botvisor/internal/process"
	"github.com/loykin/botvisor/internal/supervisor"
)

// Lifecycle is the part of the supervisor the HTTP surface drives.
type Lifecycle interface {
	Status(ctx context.Context) supervisor.Status
	Start(ctx context.Context) (supervisor.Result, error)
	Stop(ctx context.Context) (supervisor.Result, error)
	Restart(ctx context.Context) (supervisor.Result, error)
	Disconnect(ctx context.Context) (supervisor.DisconnectResult, error)
	ClearQR(ctx context.Context) (supervisor.Result, error)
}

// Router provides embeddable HTTP handlers for the worker lifecycle.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start
//	POST {basePath}/stop
//	POST {basePath}/restart
//	POST {basePath}/disconnect
//	POST {basePath}/clear-qr
//	GET  /metrics                 when metrics are enabled
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup      Lifecycle
	basePath string
	metrics  bool
	logger   *slog.Logger
}

// NewRouter constructs a Router. Example basePath: "/whatsapp" results in
// /whatsapp/status, /whatsapp/start and so on.
func NewRouter(sup Lifecycle, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath), logger: slog.Default()}
}

// WithMetrics exposes the prometheus handler at /metrics.
func (r *Router) WithMetrics(enabled bool) *Router {
	r.metrics = enabled
	return r
}

// WithLogger sets the logger used for failed requests.
func (r *Router) WithLogger(l *slog.Logger) *Router {
	if l != nil {
		r.logger = l
	}
	return r
}

// BasePath returns the sanitized mount prefix.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	r.Register(g.Group(r.basePath))
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// Register mounts the lifecycle endpoints on an existing gin group.
func (r *Router) Register(group *gin.RouterGroup) {
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/disconnect", r.handleDisconnect)
	group.POST("/clear-qr", r.handleClearQR)
}

// NewServer builds a standalone HTTP server for h. The caller runs
// ListenAndServe and Shutdown.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// disconnect may wait for stop timeout, settle delay and purge retries
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// --- Handlers ---

// resultErrorResp keeps the partial outcome, e.g. a stop that terminated the
// worker but could not delete its artifacts.
type resultErrorResp struct {
	Error   string `json:"error"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	PID     int    `json:"pid,omitempty"`
}

type disconnectErrorResp struct {
	Error   string   `json:"error"`
	Removed []string `json:"removed"`
}

// opContext detaches lifecycle operations from the client connection so a
// dropped request does not abandon a half-finished stop or purge.
func opContext(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.sup.Status(c.Request.Context()))
}

func (r *Router) handleStart(c *gin.Context) {
	res, err := r.sup.Start(opContext(c))
	r.respond(c, res, err)
}

func (r *Router) handleStop(c *gin.Context) {
	res, err := r.sup.Stop(opContext(c))
	r.respond(c, res, err)
}

func (r *Router) handleRestart(c *gin.Context) {
	res, err := r.sup.Restart(opContext(c))
	r.respond(c, res, err)
}

func (r *Router) handleClearQR(c *gin.Context) {
	res, err := r.sup.ClearQR(opContext(c))
	r.respond(c, res, err)
}

func (r *Router) handleDisconnect(c *gin.Context) {
	res, err := r.sup.Disconnect(opContext(c))
	if err != nil {
		code := statusFor(err)
		r.logFailure(c, code, err)
		writeJSON(c, code, disconnectErrorResp{Error: err.Error(), Removed: res.Removed})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) respond(c *gin.Context, res supervisor.Result, err error) {
	if err != nil {
		code := statusFor(err)
		r.logFailure(c, code, err)
		writeJSON(c, code, resultErrorResp{Error: err.Error(), Success: res.Success, Message: res.Message, PID: res.PID})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) logFailure(c *gin.Context, code int, err error) {
	r.logger.Warn("request failed",
		slog.String("method", c.Request.Method),
		slog.String("path", c.FullPath()),
		slog.Int("status", code),
		slog.Any("error", err))
}

// statusFor maps lifecycle errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case process.IsMissingScript(err):
		return http.StatusNotFound
	case errors.Is(err, process.ErrWorkerAlive):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
