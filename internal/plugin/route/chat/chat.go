package chat

import (
	"net/http"
	"strings"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/coordinator"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// MountRoutes mounts POST /v1/chat. limit runs after auth and is typically a
// per-user rate limiter.
func MountRoutes(r *gin.Engine, coord *coordinator.Coordinator, auth gin.HandlerFunc, limit gin.HandlerFunc) {
	r.POST("/v1/chat", auth, limit, func(c *gin.Context) {
		sendMessage(c, coord)
	})
}

func sendMessage(c *gin.Context, coord *coordinator.Coordinator) {
	var req struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Validation("body", "invalid JSON body"))
		return
	}
	convID, err := uuid.Parse(strings.TrimSpace(req.ConversationID))
	if err != nil {
		apierror.Respond(c, apierror.Validation("conversationId", "conversationId must be a valid id"))
		return
	}

	ex, err := coord.Send(c.Request.Context(), coordinator.SendRequest{
		UserID:         security.GetUserID(c),
		ConversationID: convID,
		Text:           req.Message,
		Origin:         strings.TrimSpace(c.GetHeader(security.ConnectionHeader)),
	})
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, ex)
}
