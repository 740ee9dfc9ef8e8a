package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/services"
)

const maxPageLimit = 200

// ConversationHandler serves conversation history and backfill endpoints.
type ConversationHandler struct {
	conversations *services.ConversationService
	messages      *services.MessageService
	receipts      *services.ReceiptService
	logger        *zap.Logger
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(conversations *services.ConversationService, messages *services.MessageService, receipts *services.ReceiptService, logger *zap.Logger) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		messages:      messages,
		receipts:      receipts,
		logger:        logging.OrNop(logger),
	}
}

// ListConversations returns the caller's conversations, most recent first.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": summaries})
}

// StartConversation returns the conversation with a peer, creating it if needed.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversations.Resolve(c.Request.Context(), c.GetInt("userID"), req.PeerID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// StartExternalConversation opens a conversation outside the caller's connections.
func (h *ConversationHandler) StartExternalConversation(c *gin.Context) {
	var req struct {
		RecipientID int `json:"recipient_id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	conv, err := h.conversations.ResolveExternal(c.Request.Context(), c.GetInt("userID"), req.RecipientID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) GetConversation(c *gin.Context) {
	conversationID, ok := parseID(c, "conversation_id", "conversation")
	if !ok {
		return
	}

	conv, err := h.conversations.Get(c.Request.Context(), conversationID, c.GetInt("userID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, conv)
}

// ListMessages returns one page of the conversation, oldest first.
func (h *ConversationHandler) ListMessages(c *gin.Context) {
	conversationID, ok := parseID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil || skip < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid skip"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit < 1 || limit > maxPageLimit {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
		return
	}

	msgs, err := h.messages.List(c.Request.Context(), conversationID, c.GetInt("userID"), skip, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage stores a message and broadcasts it exactly like the socket path.
func (h *ConversationHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseID(c, "conversation_id", "conversation")
	if !ok {
		return
	}
	var req struct {
		Content    string             `json:"content" binding:"max=10000"`
		Attachment *models.Attachment `json:"attachment"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messages.Create(c.Request.Context(), services.SendRequest{
		SenderID:       c.GetInt("userID"),
		ConversationID: conversationID,
		Content:        req.Content,
		Attachment:     req.Attachment,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// MarkRead advances the caller's read watermark to now.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := parseID(c, "conversation_id", "conversation")
	if !ok {
		return
	}

	marked, err := h.receipts.MarkConversationRead(c.Request.Context(), conversationID, c.GetInt("userID"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !marked {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
