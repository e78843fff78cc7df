// file: internal/server/server.go
// version: 2.0.0
// guid: 2f8e4c1a-7b3d-4e9f-a6c2-5d8b1e0f3a79

// Package server exposes the download queue over a JSON control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdfalk/paced-downloader/internal/config"
	"github.com/jdfalk/paced-downloader/internal/logging"
	"github.com/jdfalk/paced-downloader/internal/metrics"
	"github.com/jdfalk/paced-downloader/internal/models"
	"github.com/jdfalk/paced-downloader/internal/queue"
	"github.com/jdfalk/paced-downloader/internal/realtime"
	"github.com/jdfalk/paced-downloader/internal/server/middleware"
)

// Service is the queue surface the API drives.
type Service interface {
	Enqueue(ctx context.Context, item *models.DownloadItem) error
	Remove(id string) bool
	List() []models.DownloadItem
	Get(id string) (models.DownloadItem, bool)
	Pause(id string) error
	Resume(ctx context.Context, id string) error
	Stats() queue.Summary
}

var _ Service = (*queue.Queue)(nil)

// Server represents the HTTP server
type Server struct {
	cfg        config.Config
	svc        Service
	hub        *realtime.EventHub
	version    string
	router     *gin.Engine
	httpServer *http.Server
	logger     *log.Logger

	// enqueueTimeout bounds how long a POST waits on a full queue.
	enqueueTimeout time.Duration
}

// ServerConfig holds server timeouts
type ServerConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// GetDefaultServerConfig returns default server configuration. WriteTimeout
// stays zero so SSE streams are not cut off.
func GetDefaultServerConfig() ServerConfig {
	return ServerConfig{
		ReadTimeout:     15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// New builds the router. hub may be nil, which disables /api/v1/events.
func New(cfg config.Config, svc Service, hub *realtime.EventHub, version string) *Server {
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	logger := logging.WithPrefix("api")

	router := gin.New()
	router.Use(requestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.MaxRequestBodySize(middleware.DefaultBodyLimit))

	metrics.Register()

	s := &Server{
		cfg:            cfg,
		svc:            svc,
		hub:            hub,
		version:        version,
		router:         router,
		logger:         logger,
		enqueueTimeout: 10 * time.Second,
	}
	s.setupRoutes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// setupRoutes configures all the routes
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/api/health", s.healthCheck)
	s.router.GET("/api/v1/health", s.healthCheck)

	api := s.router.Group("/api/v1")
	api.Use(middleware.NewIPRateLimiter(s.cfg.APIRateLimit, s.cfg.APIBurst).Middleware())
	api.Use(middleware.BasicAuth(s.cfg.AuthUser, s.cfg.AuthPasswordHash))
	{
		api.GET("/items", s.listItems)
		api.POST("/items", s.addItem)
		api.GET("/items/:id", s.getItem)
		api.DELETE("/items/:id", s.removeItem)
		api.POST("/items/:id/pause", s.pauseItem)
		api.POST("/items/:id/resume", s.resumeItem)
		api.GET("/stats", s.getStats)
		if s.hub != nil {
			api.GET("/events", s.hub.HandleSSE)
		}
	}
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, cfg ServerConfig) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln, cfg)
}

// Serve runs the API on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener, cfg ServerConfig) error {
	s.httpServer = &http.Server{
		Handler:        s.router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down api")
	s.hub.Broadcast(&realtime.Event{
		Type: "system.shutdown",
		Data: map[string]any{"message": "server is shutting down"},
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	return nil
}

func (s *Server) healthCheck(c *gin.Context) {
	stats := s.svc.Stats()
	status := "ok"
	if stats.BreakerState != "closed" {
		status = "degraded"
	}
	c.JSON(http.StatusOK, StatusResponse{
		Status:  status,
		Version: s.version,
		Data:    stats,
	})
}
