package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/chainintel-engine/internal/alert"
	"github.com/rawblock/chainintel-engine/internal/metrics"
	"github.com/rawblock/chainintel-engine/internal/orchestrator"
	"github.com/rawblock/chainintel-engine/internal/registry"
	"github.com/rawblock/chainintel-engine/internal/scheduler"
	"github.com/rawblock/chainintel-engine/pkg/models"
)

// REST control surface. Investigations, scheduler control, alert history
// and registry lookups behind bearer auth and a per-IP rate limit; the
// health probe, the metrics exposition and the WebSocket stream stay
// public.

// Config tunes the HTTP surface.
type Config struct {
	AuthToken      string // empty disables auth (dev mode)
	AllowedOrigins string // comma-separated; empty or "*" allows all
	RatePerMinute  int    // per-IP request budget, default 120
	Burst          int    // per-IP burst, default 30
}

// Server holds the handlers' dependencies.
type Server struct {
	orch     *orchestrator.Orchestrator
	sched    *scheduler.Scheduler
	alerts   *alert.Manager
	registry *registry.Registry
	metrics  *metrics.Metrics
	hub      *Hub
	dbPing   func(context.Context) error // nil when no relational store is wired
	logger   *zap.Logger
}

// NewServer wires the control surface; sched, metrics and dbPing may be
// nil.
func NewServer(orch *orchestrator.Orchestrator, sched *scheduler.Scheduler, alerts *alert.Manager,
	reg *registry.Registry, m *metrics.Metrics, hub *Hub,
	dbPing func(context.Context) error, logger *zap.Logger) *Server {

	return &Server{
		orch:     orch,
		sched:    sched,
		alerts:   alerts,
		registry: reg,
		metrics:  m,
		hub:      hub,
		dbPing:   dbPing,
		logger:   logger.Named("api"),
	}
}

// SetupRouter builds the full route table.
func (s *Server) SetupRouter(cfg Config) *gin.Engine {
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = 120
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 30
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(s.metrics.GinMiddleware())

	// Public surface.
	r.GET("/api/v1/health", s.handleHealth)
	r.GET("/api/v1/stream", s.hub.Subscribe)
	r.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	limiter := NewRateLimiter(cfg.RatePerMinute, cfg.Burst)
	api := r.Group("/api/v1")
	api.Use(limiter.Middleware(), AuthMiddleware(cfg.AuthToken, s.logger))
	{
		api.POST("/investigations/address", s.handleInvestigateAddress)
		api.POST("/investigations/transaction", s.handleInvestigateTransaction)
		api.POST("/investigations/flow", s.handleTraceFlow)
		api.POST("/investigations/batch", s.handleBatchAttribution)
		api.GET("/investigations/:id", s.handleGetInvestigation)
		api.GET("/investigations", s.handleListInvestigations)

		api.GET("/scheduler/tasks", s.handleSchedulerTasks)
		api.POST("/scheduler/tasks/:id/run", s.handleSchedulerRun)
		api.POST("/scheduler/tasks/:id/enable", s.handleSchedulerEnable)
		api.POST("/scheduler/tasks/:id/disable", s.handleSchedulerDisable)

		api.GET("/alerts", s.handleAlerts)
		api.GET("/registry/classify", s.handleRegistryClassify)
	}

	return r
}

// corsMiddleware mirrors the deployment convention: ALLOWED_ORIGINS empty
// or "*" allows everything; otherwise the request origin must be listed.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	dbConnected := false
	if s.dbPing != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		dbConnected = s.dbPing(ctx) == nil
		cancel()
	}

	resp := gin.H{
		"status":       "operational",
		"engine":       "ChainIntel Engine v1.0",
		"dbConnected":  dbConnected,
		"registrySize": s.registry.Count(),
		"capabilities": gin.H{
			"address_investigation":     true,
			"transaction_investigation": true,
			"fund_flow_tracing":         true,
			"batch_attribution":         true,
			"scheduled_analysis":        s.sched != nil,
		},
	}
	if s.sched != nil {
		resp["scheduledTasks"] = len(s.sched.Status())
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSchedulerTasks(c *gin.Context) {
	if s.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": s.sched.Status()})
}

func (s *Server) handleSchedulerRun(c *gin.Context) {
	if s.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not configured"})
		return
	}
	id := c.Param("id")
	if err := s.sched.RunNow(c.Request.Context(), id); err != nil {
		c.JSON(schedulerStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started", "task": id})
}

func (s *Server) handleSchedulerEnable(c *gin.Context) {
	s.setTaskEnabled(c, true)
}

func (s *Server) handleSchedulerDisable(c *gin.Context) {
	s.setTaskEnabled(c, false)
}

func (s *Server) setTaskEnabled(c *gin.Context, enabled bool) {
	if s.sched == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler not configured"})
		return
	}
	id := c.Param("id")
	var err error
	if enabled {
		err = s.sched.Enable(id)
	} else {
		err = s.sched.Disable(id)
	}
	if err != nil {
		c.JSON(schedulerStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"task": id, "enabled": enabled})
}

func (s *Server) handleAlerts(c *gin.Context) {
	if minSeverity := c.Query("severity"); minSeverity != "" {
		filtered := s.alerts.BySeverity(models.Severity(minSeverity))
		c.JSON(http.StatusOK, gin.H{"alerts": filtered, "total": len(filtered)})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	recent := s.alerts.Recent(limit)
	c.JSON(http.StatusOK, gin.H{"alerts": recent, "total": len(recent)})
}

func (s *Server) handleRegistryClassify(c *gin.Context) {
	address := c.Query("address")
	chainTag := c.Query("chain")
	if address == "" || chainTag == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Both address and chain query parameters are required"})
		return
	}

	entry := s.registry.Classify(address, chainTag)
	if entry == nil {
		c.JSON(http.StatusOK, gin.H{"matched": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"matched": true, "entry": entry})
}

func schedulerStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownTask):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrTooSoon):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
