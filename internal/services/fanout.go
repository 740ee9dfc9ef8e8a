package services

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
	"cowork-chat/internal/repositories"
)

const previewLength = 50

// Fanout turns one persisted message into durable notifications for every
// recipient that is offline at the time.
type Fanout struct {
	notifications repositories.NotificationRepository
	presence      PresenceReader
	logger        *zap.Logger
}

func NewFanout(notifications repositories.NotificationRepository, presence PresenceReader, logger *zap.Logger) *Fanout {
	return &Fanout{notifications: notifications, presence: presence, logger: logging.OrNop(logger)}
}

// Notify must run only after msg is persisted. Per-recipient failures are
// logged and skipped; it returns how many notifications were created.
func (f *Fanout) Notify(ctx context.Context, conv models.Conversation, msg models.Message, senderName string) int {
	created := 0
	reference := ConversationReference(conv.ID)
	link := ConversationLink(conv.ID)
	text := fmt.Sprintf("New message from %s", senderName)
	messageID := msg.ID

	for _, recipientID := range othersThan(conv, msg.SenderID) {
		online, err := f.presence.IsOnline(ctx, recipientID)
		if err != nil {
			f.logger.Warn("presence lookup failed, treating recipient as offline", zap.Int("user_id", recipientID), zap.Error(err))
			online = false
		}
		if online {
			continue
		}

		_, err = f.notifications.Create(ctx, models.Notification{
			UserID:          recipientID,
			Type:            models.NotificationTypeNewMessage,
			Message:         text,
			RelatedEntityID: &messageID,
			Reference:       &reference,
			Link:            &link,
		})
		if err != nil {
			observability.IncNotificationFanout("failed")
			f.logger.Error("create notification",
				zap.Int("user_id", recipientID),
				zap.Int("conversation_id", conv.ID),
				zap.Int("message_id", msg.ID),
				zap.Error(err))
			continue
		}
		observability.IncNotificationFanout("created")
		created++
	}
	return created
}

// Preview is the short text shown in new-message badges.
func Preview(msg models.Message) string {
	if msg.Content == "" {
		if msg.AttachmentFilename != nil && *msg.AttachmentFilename != "" {
			return "Attachment: " + *msg.AttachmentFilename
		}
		return ""
	}
	if utf8.RuneCountInString(msg.Content) <= previewLength {
		return msg.Content
	}
	runes := []rune(msg.Content)
	return string(runes[:previewLength]) + "..."
}
