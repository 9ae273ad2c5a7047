package conversations

import (
	"net/http"

	"github.com/chirino/chat-service/internal/apierror"
	"github.com/chirino/chat-service/internal/coordinator"
	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CreateResponse is returned when a conversation is created.
type CreateResponse struct {
	Conversation *model.Conversation `json:"conversation"`
	Messages     []model.Message     `json:"messages"`
}

// MountRoutes mounts the conversation routes on the given router.
// Called after store initialization so the store is available.
func MountRoutes(r *gin.Engine, store registrystore.ChatStore, coord *coordinator.Coordinator, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.GET("/conversations", func(c *gin.Context) {
		listConversations(c, store)
	})
	g.POST("/conversations", func(c *gin.Context) {
		createConversation(c, coord)
	})
	g.GET("/conversations/:conversationId", func(c *gin.Context) {
		getConversation(c, store)
	})
	g.GET("/conversations/:conversationId/messages", func(c *gin.Context) {
		listMessages(c, store)
	})
	g.PUT("/conversations/:conversationId/title", func(c *gin.Context) {
		renameConversation(c, coord)
	})
	g.DELETE("/conversations/:conversationId", func(c *gin.Context) {
		deleteConversation(c, coord)
	})
	g.DELETE("/conversations/:conversationId/clear", func(c *gin.Context) {
		clearConversation(c, coord)
	})
}

func listConversations(c *gin.Context, store registrystore.ChatStore) {
	summaries, err := store.ListConversations(c.Request.Context(), security.GetUserID(c))
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	if summaries == nil {
		summaries = []registrystore.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

func createConversation(c *gin.Context, coord *coordinator.Coordinator) {
	var req struct {
		InitialMessage *string `json:"initialMessage"`
	}
	// An empty body creates an untitled conversation.
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Respond(c, apierror.Validation("body", "invalid JSON body"))
			return
		}
	}

	conv, msgs, err := coord.CreateConversation(c.Request.Context(), security.GetUserID(c), req.InitialMessage)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusCreated, CreateResponse{Conversation: conv, Messages: msgs})
}

func getConversation(c *gin.Context, store registrystore.ChatStore) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	conv, err := store.GetConversation(c.Request.Context(), security.GetUserID(c), convID)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func listMessages(c *gin.Context, store registrystore.ChatStore) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	msgs, err := store.ListMessages(c.Request.Context(), security.GetUserID(c), convID)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"data": msgs})
}

func renameConversation(c *gin.Context, coord *coordinator.Coordinator) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	var req struct {
		Title string `json:"title"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		apierror.Respond(c, apierror.Validation("body", "invalid JSON body"))
		return
	}
	conv, err := coord.RenameConversation(c.Request.Context(), security.GetUserID(c), convID, req.Title)
	if err != nil {
		apierror.Respond(c, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func deleteConversation(c *gin.Context, coord *coordinator.Coordinator) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	if err := coord.DeleteConversation(c.Request.Context(), security.GetUserID(c), convID); err != nil {
		apierror.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func clearConversation(c *gin.Context, coord *coordinator.Coordinator) {
	convID, ok := conversationID(c)
	if !ok {
		return
	}
	if err := coord.ClearConversation(c.Request.Context(), security.GetUserID(c), convID); err != nil {
		apierror.Respond(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// conversationID parses the path id. Malformed ids are reported as not found.
func conversationID(c *gin.Context) (uuid.UUID, bool) {
	raw := c.Param("conversationId")
	id, err := uuid.Parse(raw)
	if err != nil {
		apierror.Respond(c, &registrystore.NotFoundError{Resource: "conversation", ID: raw})
		return uuid.Nil, false
	}
	return id, true
}
