package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vault-backend/internal/services"
	"vault-backend/internal/utils"
)

// WebSocketHandler upgrades /ws/events. A valid user token (Authorization
// header or token query parameter) narrows the feed to events naming the
// user; without one the client receives every vault event.
type WebSocketHandler struct {
	pushService *services.WebSocketPushService
	secret      []byte
	log         logrus.FieldLogger
}

func NewWebSocketHandler(pushService *services.WebSocketPushService, userSecret string, logger logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{
		pushService: pushService,
		secret:      []byte(userSecret),
		log:         logger.WithField("component", "websocket_api"),
	}
}

// HandleWebSocket GET /ws/events
func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	token := c.Query("token")
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token = strings.TrimPrefix(auth, "Bearer ")
	}

	var userAddress string
	if token != "" {
		claims, err := ValidateUserToken(h.secret, token)
		if err == nil {
			userAddress = utils.NormalizeAddress(claims.Address)
		}
		if userAddress == "" {
			h.log.WithError(err).Debug("websocket token rejected")
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "Invalid or expired token",
				"code":    "INVALID_TOKEN",
			})
			return
		}
	}
	h.pushService.HandleWebSocket(c.Writer, c.Request, userAddress)
}
