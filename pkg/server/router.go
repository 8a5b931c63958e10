package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/japaniel/wordfamily/pkg/logger"
)

type RouterConfig struct {
	Log           *logger.Logger
	WordHandler   *WordHandler
	HealthHandler *HealthHandler
	// Token, when set, is required as a bearer token on /api routes.
	Token string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	if cfg.Token != "" {
		api.Use(RequireToken(cfg.Token))
	}
	if h := cfg.WordHandler; h != nil {
		api.GET("/words", h.ListWords)
		api.GET("/words/first-unlearned", h.FirstUnlearned)
		api.GET("/words/counts", h.Counts)
		api.GET("/words/stats", h.Stats)
		api.POST("/learned-words/:wordId", h.SetLearned)
	}
	return r
}

func RequireToken(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") && authHeader[7:] == token {
			c.Next()
			return
		}
		RespondError(c, http.StatusUnauthorized, "unauthorized", errors.New("missing or invalid token"))
	}
}

func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if log == nil {
			return
		}
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", strings.ToUpper(c.Request.Method),
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
		}
		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Debug("HTTP request", fields...)
		}
	}
}
