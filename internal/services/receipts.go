package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

// ReceiptService advances read watermarks and resolves the matching
// notifications so badge counts follow chat state.
type ReceiptService struct {
	conversations repositories.ConversationRepository
	notifications repositories.NotificationRepository
	emitter       Emitter
	logger        *zap.Logger
	now           func() time.Time
}

func NewReceiptService(conversations repositories.ConversationRepository, notifications repositories.NotificationRepository, emitter Emitter, logger *zap.Logger) *ReceiptService {
	return &ReceiptService{
		conversations: conversations,
		notifications: notifications,
		emitter:       emitter,
		logger:        logging.OrNop(logger),
		now:           time.Now,
	}
}

// MarkConversationRead sets the caller's watermark to now. It returns false,
// without error, when the caller is not a participant.
func (s *ReceiptService) MarkConversationRead(ctx context.Context, conversationID, userID int) (bool, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperrors.Internal("load conversation", err)
	}
	if !conv.HasParticipant(userID) {
		return false, nil
	}

	readAt := s.now().UTC()
	ok, err := s.conversations.MarkRead(ctx, conversationID, userID, readAt)
	if err != nil {
		return false, apperrors.Internal("mark conversation read", err)
	}
	if !ok {
		return false, nil
	}

	resolved, err := s.notifications.MarkReadByReference(ctx, userID, ConversationReference(conversationID))
	if err != nil {
		return false, apperrors.Internal("resolve notifications", err)
	}
	s.logger.Debug("conversation read",
		zap.Int("conversation_id", conversationID),
		zap.Int("user_id", userID),
		zap.Int64("notifications_resolved", resolved))

	if others := othersThan(conv, userID); len(others) > 0 {
		s.emitter.EmitToUsers(others, models.EventMessagesRead, models.MessagesRead{
			ReaderID:       userID,
			ConversationID: conversationID,
			ReadAt:         readAt,
		})
	}
	return true, nil
}

// MarkReadWithPartner marks the conversation shared with partnerID as read.
// It never creates a conversation; the id is 0 when none exists.
func (s *ReceiptService) MarkReadWithPartner(ctx context.Context, userID, partnerID int) (int, bool, error) {
	conv, err := s.conversations.FindBetween(ctx, userID, partnerID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.Internal("find conversation", err)
	}
	ok, err := s.MarkConversationRead(ctx, conv.ID, userID)
	return conv.ID, ok, err
}

// ComputeUnread is true when the latest message came from someone else and
// the identity's watermark is missing or older than it. Both sides are
// compared in UTC.
func ComputeUnread(last *models.LastMessagePreview, watermark *time.Time, identity int) bool {
	if last == nil || last.SenderID == identity {
		return false
	}
	if watermark == nil {
		return true
	}
	return watermark.UTC().Before(last.CreatedAt.UTC())
}
