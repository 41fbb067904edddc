package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"go-realtime-delivery/internal/infrastructure/auth"
	"go-realtime-delivery/internal/infrastructure/logger"
)

// callerKey holds the authenticated service name in the gin context.
const callerKey = "caller"

// RequireService rejects requests that do not carry a valid service
// credential.
func RequireService(authn auth.Authenticator, log logger.Logger) gin.HandlerFunc {
	log = log.WithField("middleware", "service-auth")
	return func(c *gin.Context) {
		caller, err := authn.Authenticate(c.Request)
		if err != nil {
			log.Debugf("Rejected %s %s: %v", c.Request.Method, c.FullPath(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Unauthorized",
			})
			return
		}
		c.Set(callerKey, caller)
		c.Next()
	}
}
