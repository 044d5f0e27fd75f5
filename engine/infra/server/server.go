package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lightdash/metricflow-service/engine/build"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/engine/query"
	"github.com/lightdash/metricflow-service/pkg/config"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// Handlers groups the route handlers and their dependencies.
type Handlers struct {
	queries *query.Service
	builds  *build.Manager
}

// NewHandlers wires the handler set.
func NewHandlers(queries *query.Service, builds *build.Manager) *Handlers {
	return &Handlers{queries: queries, builds: builds}
}

// Server is the HTTP front of the service.
type Server struct {
	cfg    *config.ServerConfig
	router *gin.Engine
}

// NewServer assembles the router with auth and logging middleware.
func NewServer(cfg *config.ServerConfig, registry *environment.Registry, handlers *Handlers) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		respondData(c, http.StatusOK, gin.H{"status": "ok"})
	})

	project := router.Group("/api/v1/projects/:projectId", projectAuth(registry))
	{
		project.POST("/query", handlers.createQuery)
		project.GET("/query/:queryId", handlers.getQueryResult)
		project.DELETE("/query/:queryId", handlers.deleteQuery)
		project.POST("/sql", handlers.compileSQL)
		project.POST("/validate", handlers.validateQuery)
		project.POST("/dimension-values", handlers.dimensionValues)

		project.GET("/metrics", handlers.listMetrics)
		project.GET("/dimensions", handlers.listDimensions)
		project.GET("/semantic-models", handlers.listSemanticModels)
		project.GET("/metrics-for-dimensions", handlers.metricsForDimensions)

		project.POST("/builds", handlers.triggerBuild)
		project.GET("/builds", handlers.listBuilds)
		project.GET("/builds/:buildId", handlers.getBuildStatus)
	}

	return &Server{cfg: cfg, router: router}
}

// Router exposes the handler tree, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("server stopped")
	return <-errCh
}
