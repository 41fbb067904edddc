package websocket

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/hub"
	"go-realtime-delivery/internal/infrastructure/logger"
)

// WebSocketHandler serves the push-only WebSocket variant of the event
// stream. Sessions behave exactly like their SSE counterparts.
type WebSocketHandler struct {
	registry *hub.Registry
	authn    auth.Authenticator
	cfg      hub.EndpointConfig
	logger   logger.Logger
	upgrader websocket.Upgrader
}

// NewWebSocketHandler creates a new WebSocket handler instance
func NewWebSocketHandler(
	registry *hub.Registry,
	authn auth.Authenticator,
	cfg hub.EndpointConfig,
	logger logger.Logger,
) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		authn:    authn,
		cfg:      cfg,
		logger:   logger.WithField("handler", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Tokens, not cookies, authenticate the stream.
				return true
			},
		},
	}
}

// Connect authenticates, upgrades and streams events until the session closes.
func (h *WebSocketHandler) Connect(c *gin.Context) {
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

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorf("Failed to upgrade connection: %v", err)
		return
	}

	ctx := c.Request.Context()
	log := h.logger.WithField("user_id", userID)
	conn := hub.NewWebSocketConnection(ws, h.cfg.Sink, log)
	session := hub.NewSession(h.registry, userID, conn, h.cfg.Session, h.logger)

	if _, err := session.Open(ctx); err != nil {
		log.Errorf("Failed to open session: %v", err)
		_ = ws.Close()
		return
	}

	reason := "stream closed"
	if err := conn.Serve(ctx); err != nil {
		reason = err.Error()
	} else if ctx.Err() != nil {
		reason = "client disconnected"
	}
	session.Close(reason)
}
