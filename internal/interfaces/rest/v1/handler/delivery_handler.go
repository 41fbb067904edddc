package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/logger"
	"go-realtime-delivery/internal/port/inbound"
)

// DeliveryHandler exposes the delivery use case to other services.
type DeliveryHandler struct {
	useCase inbound.DeliveryUseCase
	logger  logger.Logger
}

type UserEventRequest struct {
	Type string         `json:"type" binding:"required"`
	Data map[string]any `json:"data"`
}

type ConversationMessageRequest struct {
	Participants []string       `json:"participants" binding:"required"`
	Data         map[string]any `json:"data"`
}

func NewDeliveryHandler(useCase inbound.DeliveryUseCase, logger logger.Logger) *DeliveryHandler {
	return &DeliveryHandler{
		useCase: useCase,
		logger:  logger.WithField("handler", "delivery"),
	}
}

// SendUserEvent handles POST /users/:userId/events.
func (h *DeliveryHandler) SendUserEvent(c *gin.Context) {
	var req UserEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debugf("Invalid request format: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid event format",
		})
		return
	}

	err := h.useCase.SendUserEvent(c.Request.Context(), inbound.SendUserEventCommand{
		UserID: c.Param("userId"),
		Type:   req.Type,
		Data:   req.Data,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.WithField("caller", c.GetString(callerKey)).
		Debugf("Accepted %q event for user %s", req.Type, c.Param("userId"))
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// SendConversationMessage handles POST /conversations/:conversationId/messages.
func (h *DeliveryHandler) SendConversationMessage(c *gin.Context) {
	var req ConversationMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Debugf("Invalid request format: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid message format",
		})
		return
	}

	err := h.useCase.SendConversationMessage(c.Request.Context(), inbound.SendConversationMessageCommand{
		ConversationID: c.Param("conversationId"),
		Participants:   req.Participants,
		Data:           req.Data,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// GetConnections lists live connections.
func (h *DeliveryHandler) GetConnections(c *gin.Context) {
	connections := h.useCase.ListConnections(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"total_connections": len(connections),
		"connections":       connections,
	})
}

func (h *DeliveryHandler) respondError(c *gin.Context, err error) {
	if errors.Is(err, inbound.ErrInvalidCommand) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.logger.WithError(err).Error("Delivery request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to accept event"})
}
