package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"example.com/backstage/services/ota/api/handlers"
	"example.com/backstage/services/ota/api/middleware"
	"example.com/backstage/services/ota/api/routes"
	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server represents the HTTP server
type Server struct {
	router     *gin.Engine
	config     *config.Config
	httpServer *http.Server
	log        *logrus.Logger
}

// ServerOptions holds the optional collaborators of the server
type ServerOptions struct {
	NewRelic *newrelic.Application
	Metrics  *metrics.Metrics
	Gauges   map[string]handlers.GaugeFunc
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, log *logrus.Logger, svc service.Service, opts ServerOptions) *Server {
	gin.SetMode(cfg.Server.Mode)

	if opts.Metrics == nil {
		opts.Metrics = metrics.NewMetrics()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log, opts.Metrics))

	if opts.NewRelic != nil {
		router.Use(middleware.NewRelicMiddleware(opts.NewRelic))
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	router.Use(middleware.RateLimit(limiter, opts.Metrics))

	routes.SetupRoutes(router, svc, log, routes.Options{
		Metrics:        opts.Metrics,
		Gauges:         opts.Gauges,
		MaxUploadBytes: cfg.Firmware.MaxUploadBytes,
	})

	return &Server{
		router: router,
		config: cfg,
		log:    log,
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server. It returns nil after a graceful Shutdown.
func (s *Server) Start() error {
	s.log.Infof("Starting server on port %d", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
