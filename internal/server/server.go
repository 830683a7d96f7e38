// Package server assembles the gin engine, middleware, and routes around
// the mediator.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/pagewarden/pagewarden/internal/api/http"
	"github.com/pagewarden/pagewarden/internal/api/middleware"
	"github.com/pagewarden/pagewarden/internal/infrastructure/config"
	"github.com/pagewarden/pagewarden/internal/infrastructure/logging"
	"github.com/pagewarden/pagewarden/internal/infrastructure/monitoring"
	"github.com/pagewarden/pagewarden/internal/mediator"
)

// Server wraps the HTTP facade and its dependencies.
type Server struct {
	router *gin.Engine
	http   *http.Server
	logger *logging.Logger
}

// New builds the facade. metrics may be nil (no Prometheus registration,
// e.g. in tests); collector may be nil (summary endpoint disabled).
func New(cfg *config.Config, logger *logging.Logger, med *mediator.Mediator, collector *monitoring.Collector, metrics *monitoring.Metrics) *Server {
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.Server.RequestsPerSecond,
		Burst:             cfg.Server.RateBurst,
	}))
	if metrics != nil {
		router.Use(monitoring.Middleware(metrics))
	}

	handlers := apihttp.NewHandlers(med, collector, logger)
	router.POST("/assess", handlers.Assess)
	router.POST("/assess/labeled", handlers.AssessLabeled)
	router.GET("/health", handlers.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/metrics/summary", handlers.Summary)

	return &Server{
		router: router,
		http: &http.Server{
			Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("facade listening", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
