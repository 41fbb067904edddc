package handler

import (
	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/port/inbound"
)

// InitDeliveryRouter mounts the delivery API under rg. Every route requires
// a credential accepted by serviceAuthn.
func InitDeliveryRouter(
	logger logger.Logger,
	useCase inbound.DeliveryUseCase,
	serviceAuthn auth.Authenticator,
	rg *gin.RouterGroup,
) {
	deliveryHandler := NewDeliveryHandler(useCase, logger)

	apiGroup := rg.Group("/api/v1")
	apiGroup.Use(RequireService(serviceAuthn, logger))
	apiGroup.POST("/users/:userId/events", deliveryHandler.SendUserEvent)
	apiGroup.POST("/conversations/:conversationId/messages", deliveryHandler.SendConversationMessage)
	apiGroup.GET("/connections", deliveryHandler.GetConnections)
}
