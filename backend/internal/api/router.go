// Package api exposes the matching engine and persona manager over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
	"matchmaker/backend/internal/backend"
	"matchmaker/backend/internal/matching"
	"matchmaker/backend/internal/metrics"
	"matchmaker/backend/internal/persona"
	"matchmaker/backend/pkg/logger"
)

// Deps holds everything the handlers need
type Deps struct {
	Engine    *matching.Engine
	Personas  *persona.Manager
	Responses backend.ResponseStore
	Gatherer  prometheus.Gatherer

	// DefaultLimit is used when a request carries no limit
	DefaultLimit int
	// Tracing adds the otelgin middleware
	Tracing bool
	// ServiceName labels server spans
	ServiceName string
}

// Server holds the handler dependencies
type Server struct {
	engine       *matching.Engine
	personas     *persona.Manager
	responses    backend.ResponseStore
	defaultLimit int
	logger       *zap.Logger
}

// NewRouter builds the gin engine with middleware and every route
func NewRouter(deps Deps) *gin.Engine {
	s := &Server{
		engine:       deps.Engine,
		personas:     deps.Personas,
		responses:    deps.Responses,
		defaultLimit: deps.DefaultLimit,
		logger:       logger.Component("api"),
	}
	if s.defaultLimit <= 0 {
		s.defaultLimit = 5
	}

	router := gin.New()
	if deps.Tracing {
		router.Use(otelgin.Middleware(deps.ServiceName))
	}
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	api := router.Group("/api")
	{
		users := api.Group("/users/:id")
		users.POST("/responses", s.addResponse)

		users.POST("/matches/generate", s.generateMatches)
		users.GET("/matches", s.listMatches)
		users.GET("/matches/:matchId", s.getMatchDetails)
		users.GET("/stats", s.getStats)
		users.GET("/suggestions", s.getSuggestions)

		users.GET("/persona", s.getPersona)
		users.POST("/persona/refresh", s.refreshPersona)
		users.GET("/persona/traits", s.getTraits)
		users.GET("/compatible", s.findCompatible)

		api.PATCH("/matches/:matchId/status", s.updateMatchStatus)
	}

	return router
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Authorization", "Content-Type", "X-Requested-With"},
		MaxAge:          12 * time.Hour,
	})
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
