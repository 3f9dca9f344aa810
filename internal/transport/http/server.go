// Package http exposes the engine's control surface: cycle triggering,
// diagnostics, scheduler controls, and the alert lifecycle. Thin wrapper; the
// engine owns all behavior.
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"wheelhouse/internal/engine"
	"wheelhouse/internal/logger"
	"wheelhouse/internal/store"
	"wheelhouse/internal/types"
)

type Server struct {
	engine *engine.Engine
	store  store.Store
	srv    *http.Server
}

func NewServer(addr string, eng *engine.Engine, st store.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{engine: eng, store: st}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"ok": true}) })

	api := r.Group("/api/v1")
	{
		api.GET("/status", s.status)
		api.POST("/engine/start", s.start)
		api.POST("/engine/stop", s.stop)
		api.POST("/cycles/run", s.runCycle)
		api.GET("/automations", s.listAutomations)
		api.GET("/automations/:id/diagnostics", s.diagnostics)
		api.GET("/alerts", s.listAlerts)
		api.POST("/alerts/:id/ack", s.ackAlert)
		api.POST("/alerts/:id/dismiss", s.dismissAlert)
	}

	s.srv = &http.Server{Addr: addr, Handler: r}
	return s
}

// Handler is used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Start() {
	go func() {
		logger.Infof("http: listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http: server: %v", err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

func (s *Server) start(c *gin.Context) {
	s.engine.Start()
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stop(c *gin.Context) {
	s.engine.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) runCycle(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter is required"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Minute)
	defer cancel()

	err := s.engine.RunCycleNow(ctx, userID)
	switch {
	case errors.Is(err, engine.ErrCycleInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "completed"})
	}
}

func (s *Server) listAutomations(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter is required"})
		return
	}
	autos, err := s.store.ListAutomations(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"automations": autos})
}

func (s *Server) diagnostics(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid automation id"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	diags, err := s.engine.Diagnostics(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"diagnostics": diags})
}

func (s *Server) listAlerts(c *gin.Context) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter is required"})
		return
	}
	activeOnly := c.DefaultQuery("active", "true") == "true"
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	alerts, err := s.store.ListAlerts(c.Request.Context(), userID, activeOnly, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alerts": alerts})
}

func (s *Server) ackAlert(c *gin.Context) {
	s.setAlertStatus(c, types.AlertAcknowledged)
}

func (s *Server) dismissAlert(c *gin.Context) {
	s.setAlertStatus(c, types.AlertDismissed)
}

func (s *Server) setAlertStatus(c *gin.Context, status types.AlertStatus) {
	userID := c.Query("user")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user query parameter is required"})
		return
	}
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
		return
	}
	err = s.store.SetAlertStatus(c.Request.Context(), userID, id, status)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "alert not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": status.String()})
	}
}
