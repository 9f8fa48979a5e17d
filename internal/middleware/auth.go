package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/handlers"
)

// bearerToken extracts a Bearer token, writing the 401 itself when absent.
func bearerToken(c *gin.Context, logger logrus.FieldLogger) (string, bool) {
	fields := logrus.Fields{"path": c.Request.URL.Path, "method": c.Request.Method}
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		logger.WithFields(fields).Warn("auth failed - missing Authorization header")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authentication required",
			"code":    "MISSING_AUTH_HEADER",
		})
		return "", false
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		logger.WithFields(fields).Warn("auth failed - invalid Authorization format")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"success": false,
			"error":   "Authorization header must be in format: Bearer <token>",
			"code":    "INVALID_AUTH_FORMAT",
		})
		return "", false
	}
	return strings.TrimSpace(token), true
}

// AuthMiddleware user JWT authentication
type AuthMiddleware struct {
	secret []byte
	logger logrus.FieldLogger
}

// NewAuthMiddleware creates the middleware for tokens signed with secret.
func NewAuthMiddleware(secret string, logger logrus.FieldLogger) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret), logger: logger}
}

// RequireAuth rejects requests without a valid user token and stores the
// token's address under handlers.ContextUserAddress.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c, a.logger)
		if !ok {
			return
		}
		claims, err := handlers.ValidateUserToken(a.secret, token)
		if err != nil {
			a.logger.WithFields(logrus.Fields{
				"path":   c.Request.URL.Path,
				"method": c.Request.Method,
				"error":  err.Error(),
			}).Warn("auth failed - invalid token")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}

		c.Set(handlers.ContextUserAddress, claims.Address)
		a.logger.WithFields(logrus.Fields{
			"path":         c.Request.URL.Path,
			"user_address": claims.Address,
		}).Debug("auth ok")
		c.Next()
	}
}
