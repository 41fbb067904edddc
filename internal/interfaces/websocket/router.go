package websocket

import (
	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

// InitWebSocketRouter initializes WebSocket routes
func InitWebSocketRouter(
	logger logger.Logger,
	registry *hub.Registry,
	authn auth.Authenticator,
	cfg hub.EndpointConfig,
	rg *gin.RouterGroup,
) {
	wsHandler := NewWebSocketHandler(registry, authn, cfg, logger)

	rg.GET("/ws", wsHandler.Connect)
}
