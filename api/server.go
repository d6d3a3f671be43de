// Package api serves the research pipeline over HTTP, Server-Sent Events and
// WebSocket
package api

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/memtensor/deepresearch/api/docs"
	"github.com/memtensor/deepresearch/pkg/config"
	"github.com/memtensor/deepresearch/pkg/errors"
	"github.com/memtensor/deepresearch/pkg/interfaces"
	"github.com/memtensor/deepresearch/pkg/metrics"
	"github.com/memtensor/deepresearch/pkg/pipeline"
)

// Version is reported by the health endpoint
var Version = "dev"

// metricsExporter is implemented by metrics backends that can be scraped
type metricsExporter interface {
	Handler() http.Handler
}

// Server represents the API server instance
type Server struct {
	service   *pipeline.Service
	config    *config.AppConfig
	logger    interfaces.Logger
	metrics   interfaces.Metrics
	router    *gin.Engine
	server    *http.Server
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]interfaces.HealthChecker
}

// NewServer creates a new API server instance. The memory and conversation
// stores are health checked when they support it.
func NewServer(service *pipeline.Service, cfg *config.AppConfig, logger interfaces.Logger, m interfaces.Metrics) *Server {
	if cfg.LogLevel == "error" || cfg.LogLevel == "warn" {
		gin.SetMode(gin.ReleaseMode)
	}
	if m == nil {
		m = metrics.NewNoOpMetrics()
	}

	s := &Server{
		service:   service,
		config:    cfg,
		logger:    logger,
		metrics:   m,
		router:    gin.New(),
		startTime: time.Now(),
		checks:    make(map[string]interfaces.HealthChecker),
	}
	if hc, ok := service.Memory().(interfaces.HealthChecker); ok {
		s.checks["memory"] = hc
	}
	if hc, ok := service.Conversations().(interfaces.HealthChecker); ok {
		s.checks["conversations"] = hc
	}

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// AddHealthCheck registers a collaborator reported by /health under name
func (s *Server) AddHealthCheck(name string, checker interfaces.HealthChecker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = checker
}

// Router returns the underlying gin engine
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recoveryMiddleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = s.config.API.CORSOrigins
	corsConfig.AllowCredentials = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	if len(corsConfig.AllowOrigins) == 0 {
		corsConfig.AllowOrigins = nil
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	}
	s.router.Use(cors.New(corsConfig))
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.root)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group(s.config.API.APIPrefix)
	{
		v1.POST("/search", s.search)
	}

	s.router.GET("/ws", s.webSocket(pipeline.ModeStream, s.service.Search))
	s.router.GET("/ws/agent", s.webSocket(pipeline.ModeGraph, s.service.RunGraph))
	s.router.POST("/agent/answer", s.agentAnswer)
	s.router.NoRoute(func(c *gin.Context) {
		s.writeError(c, errors.NewNotFoundError("route "+c.Request.URL.Path))
	})

	if exporter, ok := s.metrics.(metricsExporter); ok && s.config.MetricsEnabled {
		s.router.GET("/metrics", gin.WrapH(exporter.Handler()))
	}

	if s.config.API.DocsEnabled {
		docs.SwaggerInfo.Title = s.config.API.ProjectName
		docs.SwaggerInfo.BasePath = "/"
		s.router.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// Start serves until ctx is cancelled and then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Address(),
		Handler:     s.router,
		ReadTimeout: s.config.API.ReadTimeout,
		// streams stay open for the whole generation
		WriteTimeout: s.config.API.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting API server", map[string]interface{}{
		"address":  s.server.Addr,
		"mode":     gin.Mode(),
		"topology": s.service.Topology(),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.logger.Error("Failed to start server", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server...")
	return s.Stop()
}

// Stop gracefully stops the API server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

func (s *Server) healthChecks() ([]string, map[string]interfaces.HealthChecker) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]interfaces.HealthChecker, len(s.checks))
	for name, hc := range s.checks {
		names = append(names, name)
		checks[name] = hc
	}
	sort.Strings(names)
	return names, checks
}
