package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"cowork-chat/internal/models"
)

const requestIDContextKey = "requestID"

// AuditSink records message mutations.
type AuditSink interface {
	Emit(ctx context.Context, level, text, requestID string, userID *string)
	EmitMessageMutation(ctx context.Context, mutation string, conversationID, messageID int, requestID string, userID *string)
}

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-Id")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func userIDFromContext(c *gin.Context) *string {
	if userID := c.GetInt("userID"); userID != 0 {
		value := strconv.Itoa(userID)
		return &value
	}
	return nil
}

func auditMutation(c *gin.Context, sink AuditSink, mutation string, msg models.Message) {
	if sink == nil {
		return
	}
	sink.EmitMessageMutation(c.Request.Context(), mutation, msg.ConversationID, msg.ID, requestIDFromContext(c), userIDFromContext(c))
}
