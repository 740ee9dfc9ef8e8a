// Package services holds the chat domain managers shared by the HTTP and
// socket surfaces, so both paths persist and broadcast identically.
package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
)

// Emitter delivers a frame to every live session of the given identities.
type Emitter interface {
	EmitToUsers(userIDs []int, event string, data any)
}

// PresenceReader is the read-only view of presence the services need.
type PresenceReader interface {
	IsOnline(ctx context.Context, userID int) (bool, error)
}

// ConversationReference tags notifications produced for a conversation.
func ConversationReference(conversationID int) string {
	return fmt.Sprintf("conversation:%d", conversationID)
}

// ConversationLink is the client deep link into a conversation.
func ConversationLink(conversationID int) string {
	return fmt.Sprintf("/chat?conversationId=%d", conversationID)
}

func othersThan(conv models.Conversation, userID int) []int {
	ids := make([]int, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		if p.UserID != userID {
			ids = append(ids, p.UserID)
		}
	}
	return ids
}

func publishDomainEvent(ctx context.Context, logger *zap.Logger, routingKey, name string, payload any) {
	err := observability.PublishEvent(ctx, routingKey, observability.EventEnvelope{
		EventType: "chat",
		EventName: name,
		Payload:   payload,
	}, observability.HeadersFromContext(ctx))
	if err != nil {
		logger.Warn("domain event publish failed", zap.String("routing_key", routingKey), zap.Error(err))
	}
}
