package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"relaychat-backend/internal/identity"
	"relaychat-backend/pkg/response"
)

// Auth validates the bearer credential against the identity provider
// and sets user_id and username in the Gin context. Every chat route
// sits behind this; the service itself never issues credentials.
func Auth(provider identity.Provider) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			// Browsers cannot set headers on WebSocket upgrades, so the
			// token may ride in the query string instead
			if token := c.Query("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if authHeader == "" {
			response.Unauthorized(c, "Authorization header required")
			c.Abort()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "Invalid authorization header format")
			c.Abort()
			return
		}

		ident, err := provider.ValidateCredential(c.Request.Context(), parts[1])
		if err != nil {
			response.AppError(c, err)
			c.Abort()
			return
		}

		c.Set("user_id", ident.UserID)
		c.Set("username", ident.Username)
		c.Next()
	}
}
