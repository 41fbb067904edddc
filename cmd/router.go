package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/interfaces/rest/v1/handler"
	"go-realtime-delivery/internal/interfaces/sse"
	"go-realtime-delivery/internal/interfaces/websocket"
	"go-realtime-delivery/internal/port/inbound"
)

// routerDeps carries what the router wires. authn guards the streams and
// serviceAuthn guards the delivery API.
type routerDeps struct {
	registry     *hub.Registry
	service      inbound.DeliveryUseCase
	authn        auth.Authenticator
	serviceAuthn auth.Authenticator
	endpoint     hub.EndpointConfig
	prometheus   prometheus.Gatherer
	logger       logger.Logger
}

func InitRouter(deps routerDeps) http.Handler {
	log := deps.logger
	router := gin.New()
	router.Use(requestLogger(log))
	router.Use(gin.Recovery())

	// CORS middleware
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		// Browsers only ever open streams; the delivery API is server to server.
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Cache-Control")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})

	rootGroup := router.Group("")

	// Health check endpoint
	rootGroup.GET("/status", func(c *gin.Context) {
		running := deps.registry.IsRunning()
		status := http.StatusOK
		health := "healthy"
		if !running {
			status = http.StatusServiceUnavailable
			health = "unavailable"
		}
		c.JSON(status, gin.H{
			"status":           health,
			"registry_running": running,
			"connections":      deps.registry.ConnectionCount(),
			"users":            deps.registry.UserCount(),
		})
	})

	rootGroup.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.prometheus, promhttp.HandlerOpts{})))

	handler.InitDeliveryRouter(log, deps.service, deps.serviceAuthn, rootGroup)
	sse.InitSSERouter(log, deps.registry, deps.authn, deps.endpoint, rootGroup)
	websocket.InitWebSocketRouter(log, deps.registry, deps.authn, deps.endpoint, rootGroup)

	return router
}

// requestLogger logs each request once it completes. Streams are logged
// when they end.
func requestLogger(log logger.Logger) gin.HandlerFunc {
	log = log.WithField("component", "http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logger.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"client":   c.ClientIP(),
		}).Debug("Request served")
	}
}
