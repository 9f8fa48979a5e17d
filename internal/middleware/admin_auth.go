package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/handlers"
)

// AdminAuthMiddleware admin JWT authentication
type AdminAuthMiddleware struct {
	secret []byte
	logger logrus.FieldLogger
}

// NewAdminAuthMiddleware creates the middleware for admin tokens.
func NewAdminAuthMiddleware(secret string, logger logrus.FieldLogger) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{secret: []byte(secret), logger: logger}
}

// RequireAdminAuth requires a token with the admin role.
func (a *AdminAuthMiddleware) RequireAdminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c, a.logger)
		if !ok {
			return
		}

		claims, err := handlers.ValidateAdminJWTToken(a.secret, token)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("admin auth failed - invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		if claims.Role != "admin" {
			a.logger.WithFields(logrus.Fields{
				"path": c.Request.URL.Path,
				"role": claims.Role,
			}).Warn("admin auth failed - insufficient permissions")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "Insufficient permissions",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			return
		}

		c.Set(handlers.ContextAdminUsername, claims.Username)
		c.Set(handlers.ContextAdminRole, claims.Role)
		c.Next()
	}
}
