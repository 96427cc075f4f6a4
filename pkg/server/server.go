package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/konflux-ci/konflux-aggregator/pkg/aggregator"
	"github.com/konflux-ci/konflux-aggregator/pkg/catalog"
	"github.com/konflux-ci/konflux-aggregator/pkg/config"
	"github.com/konflux-ci/konflux-aggregator/pkg/konflux"
)

const shutdownTimeout = 10 * time.Second

// Service is the aggregation surface exposed over HTTP.
type Service interface {
	KonfluxConfig(ctx context.Context, ref catalog.EntityRef) (*konflux.KonfluxConfig, error)
	Resources(ctx context.Context, kind konflux.ResourceKind, ref catalog.EntityRef, filters aggregator.Filters, pages int) (*aggregator.ResourceList, error)
	Refetch(ctx context.Context, kind konflux.ResourceKind, ref catalog.EntityRef, filters aggregator.Filters) (*aggregator.ResourceList, error)
	LatestReleases(ctx context.Context, ref catalog.EntityRef) (*aggregator.LatestReleases, error)
	Overview(ctx context.Context, ref catalog.EntityRef) (*aggregator.Overview, error)
}

// Server serves the aggregated views as JSON.
type Server struct {
	address string
	engine  *gin.Engine
	service Service
	logger  *logrus.Logger
}

// New creates the HTTP server and registers its routes.
func New(cfg config.ServerConfig, service Service, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(logger))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AddAllowHeaders("Authorization")
		engine.Use(cors.New(corsConfig))
	}

	s := &Server{
		address: cfg.Address,
		engine:  engine,
		service: service,
		logger:  logger,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	entities := s.engine.Group("/api/entities/:namespace/:kind/:name")
	{
		entities.GET("/config", s.getConfig)
		entities.GET("/resources/:resourceKind", s.getResources)
		entities.GET("/latest-releases", s.getLatestReleases)
		entities.GET("/overview", s.getOverview)
	}
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Serving HTTP API on %s", s.address)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP API...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down HTTP server: %w", err)
		}
		return nil
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		entry := logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("Request failed")
			return
		}
		entry.Debug("Request served")
	}
}
