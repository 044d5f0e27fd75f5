package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lightdash/metricflow-service/engine/auth"
	"github.com/lightdash/metricflow-service/engine/environment"
	"github.com/lightdash/metricflow-service/pkg/logger"
)

// projectAuth enforces the per-project bearer token on every project-scoped
// route.
func projectAuth(registry *environment.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.RequireBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		if err := auth.AuthorizeProject(registry, c.Param("projectId"), token); err != nil {
			respondError(c, err)
			c.Abort()
			return
		}
		c.Next()
	}
}

// requestLogger attaches a request-scoped logger to the context and emits one
// structured line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := logger.With(
			"method", c.Request.Method,
			"path", c.FullPath(),
		)
		c.Request = c.Request.WithContext(
			logger.WithContext(c.Request.Context(), log))
		c.Next()
		log.Info("request",
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
