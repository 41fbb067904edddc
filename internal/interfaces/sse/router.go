package sse

import (
	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

func InitSSERouter(
	logger logger.Logger,
	registry *hub.Registry,
	authn auth.Authenticator,
	cfg hub.EndpointConfig,
	rg *gin.RouterGroup,
) {
	sseHandler := NewServerSentEventHandler(registry, authn, cfg, logger)

	rg.GET("/events", sseHandler.Connect)
}
