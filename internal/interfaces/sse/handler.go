package sse

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

type ServerSentEventHandler struct {
	registry *hub.Registry
	authn    auth.Authenticator
	cfg      hub.EndpointConfig
	logger   logger.Logger
}

func NewServerSentEventHandler(
	registry *hub.Registry,
	authn auth.Authenticator,
	cfg hub.EndpointConfig,
	logger logger.Logger,
) *ServerSentEventHandler {
	return &ServerSentEventHandler{
		registry: registry,
		authn:    authn,
		cfg:      cfg,
		logger:   logger.WithField("handler", "sse"),
	}
}

// Connect authenticates the request and streams events until the client
// goes away, a write fails, the heartbeat fails or the registry stops.
func (h *ServerSentEventHandler) Connect(c *gin.Context) {
	if !h.registry.IsRunning() {
		h.logger.Warn("Registry is not running, refusing stream")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	userID, err := h.authn.Authenticate(c.Request)
	if err != nil {
		h.logger.Debugf("Rejected stream: %v", err)
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Unauthorized",
		})
		return
	}

	ctx := c.Request.Context()
	log := h.logger.WithField("user_id", userID)
	conn := hub.NewSSEConnection(c.Writer, h.cfg.Sink, log)
	session := hub.NewSession(h.registry, userID, conn, h.cfg.Session, h.logger)

	if _, err := session.Open(ctx); err != nil {
		log.Errorf("Failed to open session: %v", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Service temporarily unavailable",
		})
		return
	}

	err = conn.Serve(ctx)
	session.Close(closeReason(ctx.Err(), err, conn.Err()))
}

func closeReason(ctxErr, serveErr, sinkErr error) string {
	switch {
	case ctxErr != nil:
		return "client disconnected"
	case errors.Is(sinkErr, hub.ErrSendTimeout):
		return "client too slow"
	case serveErr != nil:
		return "write failed: " + serveErr.Error()
	default:
		return "stream closed by server"
	}
}
