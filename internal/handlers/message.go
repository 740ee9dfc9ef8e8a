package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/services"
	"cowork-chat/internal/telemetry"
)

// MessageHandler serves message mutation and reaction endpoints.
type MessageHandler struct {
	messages  *services.MessageService
	reactions *services.ReactionService
	audit     AuditSink
	logger    *zap.Logger
}

// NewMessageHandler builds a MessageHandler. audit may be nil.
func NewMessageHandler(messages *services.MessageService, reactions *services.ReactionService, audit AuditSink, logger *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, reactions: reactions, audit: audit, logger: logging.OrNop(logger)}
}

// EditMessage replaces the content of the caller's own recent message.
func (h *MessageHandler) EditMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}
	var req struct {
		Content string `json:"content" binding:"max=10000"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Edit(c.Request.Context(), messageID, c.GetInt("userID"), req.Content)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	auditMutation(c, h.audit, telemetry.MutationEdited, msg)
	c.JSON(http.StatusOK, msg)
}

// DeleteMessage soft-deletes the caller's own recent message.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}

	msg, err := h.messages.Delete(c.Request.Context(), messageID, c.GetInt("userID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	auditMutation(c, h.audit, telemetry.MutationDeleted, msg)
	c.JSON(http.StatusOK, msg)
}

func (h *MessageHandler) ListReactions(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}

	reactions, err := h.reactions.List(c.Request.Context(), messageID, c.GetInt("userID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": reactions})
}

// ToggleReaction adds the emoji, or removes it when the caller already reacted with it.
func (h *MessageHandler) ToggleReaction(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}
	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	reaction, err := h.reactions.Toggle(c.Request.Context(), messageID, c.GetInt("userID"), req.Emoji)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	action := models.ReactionRemoved
	if reaction != nil {
		action = models.ReactionAdded
	}
	c.JSON(http.StatusOK, gin.H{"action": action, "reaction": reaction})
}

func (h *MessageHandler) RemoveReaction(c *gin.Context) {
	messageID, ok := parseID(c, "message_id", "message")
	if !ok {
		return
	}

	removed, err := h.reactions.Remove(c.Request.Context(), messageID, c.GetInt("userID"), c.Param("emoji"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "reaction not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
