package handlers

import "github.com/gin-gonic/gin"

// RegisterChatRoutes mounts the conversation and message endpoints on an
// authenticated group.
func RegisterChatRoutes(r gin.IRoutes, conversations *ConversationHandler, messages *MessageHandler) {
	r.GET("/conversations", conversations.ListConversations)
	r.POST("/conversations", conversations.StartConversation)
	r.POST("/conversations/external", conversations.StartExternalConversation)
	r.GET("/conversations/:conversation_id", conversations.GetConversation)
	r.GET("/conversations/:conversation_id/messages", conversations.ListMessages)
	r.POST("/conversations/:conversation_id/messages", conversations.PostMessage)
	r.POST("/conversations/:conversation_id/read", conversations.MarkRead)

	r.PATCH("/messages/:message_id", messages.EditMessage)
	r.DELETE("/messages/:message_id", messages.DeleteMessage)
	r.GET("/messages/:message_id/reactions", messages.ListReactions)
	r.POST("/messages/:message_id/reactions", messages.ToggleReaction)
	r.DELETE("/messages/:message_id/reactions/:emoji", messages.RemoveReaction)
}
