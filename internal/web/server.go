package web

import (
	"context"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ebalodis/faceframe/internal/config"
	"github.com/ebalodis/faceframe/internal/detect"
	"github.com/ebalodis/faceframe/internal/health"
	"github.com/ebalodis/faceframe/internal/logger"
	"github.com/ebalodis/faceframe/internal/pipeline"
	"github.com/ebalodis/faceframe/internal/record"
	"github.com/ebalodis/faceframe/internal/service"
	"github.com/ebalodis/faceframe/internal/source"
)

// PipelineController is the pipeline surface exposed through the API
type PipelineController interface {
	Current() *detect.DetectionSet
	Stats() pipeline.StatsSnapshot
	Sensors() []source.Sensor
	ActiveSensor() source.Sensor
	SwitchSensor(ctx context.Context, id string) error
}

// OverlayController is the renderer surface exposed through the API
type OverlayController interface {
	Resize(width, height int) error
	Renders() uint64
}

// SurfaceSnapshotter provides overlay pixels for the image endpoints
type SurfaceSnapshotter interface {
	Snapshot() *image.RGBA
	Size() (int, int)
}

// DetectionStore is the optional recorder query interface
type DetectionStore interface {
	ListSets(ctx context.Context, opts record.ListOptions) ([]record.SetRecord, int, error)
	GetSet(ctx context.Context, id string) (*record.SetRecord, error)
}

// Server exposes the pipeline, overlay, and recordings over HTTP
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	pipeline   PipelineController // Optional pipeline controller
	renderer   OverlayController  // Optional overlay renderer
	surface    SurfaceSnapshotter // Optional overlay surface for streaming
	store      DetectionStore     // Optional detection recorder
	health     *health.Manager    // Optional health check aggregation
	version    string
	startTime  time.Time
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetPipeline sets the pipeline controller dependency
func (s *Server) SetPipeline(p PipelineController) {
	s.pipeline = p
}

// SetOverlay sets the renderer and surface dependencies
func (s *Server) SetOverlay(r OverlayController, surface SurfaceSnapshotter) {
	s.renderer = r
	s.surface = surface
}

// SetDetectionStore sets the recorder query dependency
func (s *Server) SetDetectionStore(store DetectionStore) {
	s.store = store
}

// SetHealth sets the health check manager dependency
func (s *Server) SetHealth(h *health.Manager) {
	s.health = h
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	// WriteTimeout and IdleTimeout stay disabled so the MJPEG stream can
	// hold its connection; the stream stops itself on client disconnect
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  0,
	}

	go func() {
		s.LogInfo("Starting web server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", addr)
		return nil
	}
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/health/live", s.handleLiveness)
		api.GET("/health/ready", s.handleReadiness)
		api.GET("/status", s.handleStatus)

		api.GET("/detections", s.handleDetections)
		api.GET("/stats", s.handleStats)

		sensors := api.Group("/sensors")
		{
			sensors.GET("", s.handleListSensors)
			sensors.POST("/:id/activate", s.handleActivateSensor)
		}

		api.POST("/surface", s.handleResizeSurface)
		api.GET("/overlay.jpg", s.handleOverlaySnapshot)

		recordings := api.Group("/recordings")
		{
			recordings.GET("", s.handleListRecordings)
			recordings.GET("/:id", s.handleGetRecording)
		}
	}

	s.router.GET("/stream/overlay.mjpeg", s.handleOverlayStream)
	s.router.GET("/", s.handleIndex)

	s.router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		s.handleIndex(c)
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
