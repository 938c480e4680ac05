// Package admin exposes the service administration surface over HTTP.
package admin

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/yanun0323/logs"

	"poscheck/internal/ledger"
	"poscheck/internal/obs"
	"poscheck/internal/orchestrator"
	"poscheck/internal/schema"
	"poscheck/pkg/exception"
)

// Service is the administrative surface the server drives.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Upload(ctx context.Context, path string) error
	Inventory() []schema.InventoryRecord
	UpdateInventory(ctx context.Context, rec schema.InventoryRecord) (schema.InventoryRecord, error)
	DeleteInventory(ctx context.Context, key string) error
	ClearInventory(ctx context.Context) error
	TogglePrimary() bool
	OnMessage(ctx context.Context, text string) error
	Status() orchestrator.Status
	Snapshot() ledger.Snapshot
	Metrics() *obs.Metrics
}

type uploadRequest struct {
	Path string `json:"path" binding:"required"`
}

type inventoryRequest struct {
	Key      string          `json:"key" binding:"required"`
	Quantity schema.Quantity `json:"quantity"`
}

// Server serves the admin routes.
type Server struct {
	svc    Service
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router. Call Run to listen on addr.
func NewServer(addr string, svc Service) *Server {
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{svc: svc, router: router}
	s.routes()
	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	r := s.router
	r.POST("/start", s.start)
	r.POST("/stop", s.stop)
	r.POST("/upload", s.upload)
	r.POST("/messages", s.message)
	r.GET("/status", s.status)
	r.GET("/snapshot", s.snapshot)

	inv := r.Group("/inventory")
	inv.GET("", s.inventory)
	inv.PUT("", s.updateInventory)
	inv.DELETE("", s.clearInventory)
	inv.DELETE("/:key", s.deleteInventory)

	r.POST("/primary/toggle", s.togglePrimary)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.svc.Metrics().Registry(), promhttp.HandlerOpts{})))
}

// Handler returns the router for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run listens until Shutdown.
func (s *Server) Run() error {
	logs.Infof("admin server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) start(c *gin.Context) {
	if err := s.svc.Start(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) stop(c *gin.Context) {
	if err := s.svc.Stop(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) upload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.Upload(c.Request.Context(), req.Path); err != nil {
		if errors.Is(err, exception.ErrNotAllowed) {
			fail(c, err)
			return
		}
		// unreadable or invalid start of day file
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"inventory": len(s.svc.Inventory())})
}

func (s *Server) message(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.svc.OnMessage(c.Request.Context(), strings.TrimSpace(string(body))); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Snapshot())
}

func (s *Server) inventory(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Inventory())
}

func (s *Server) updateInventory(c *gin.Context) {
	var req inventoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rec, err := s.svc.UpdateInventory(c.Request.Context(), schema.InventoryRecord{Key: req.Key, Quantity: req.Quantity})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) clearInventory(c *gin.Context) {
	if err := s.svc.ClearInventory(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) deleteInventory(c *gin.Context) {
	if err := s.svc.DeleteInventory(c.Request.Context(), c.Param("key")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) togglePrimary(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"primary": s.svc.TogglePrimary()})
}

// fail maps service errors, bare or wrapped, to status codes.
func fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch {
	case isAny(err, exception.ErrAlreadyStarted, exception.ErrNotStarted, exception.ErrNotAllowed):
		code = http.StatusConflict
	case errors.Is(err, exception.ErrInventoryNotFound):
		code = http.StatusNotFound
	case isAny(err, exception.ErrEmptyKey, exception.ErrNegativeQuantity, exception.ErrMalformedMessage):
		code = http.StatusBadRequest
	case isAny(err, exception.ErrQueueClosed, exception.ErrHalted):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		logs.Errorf("admin request %s %s failed, err: %+v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(code, gin.H{"error": err.Error()})
}

func isAny(err error, targets ...error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
