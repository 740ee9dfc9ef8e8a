package services

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
	"cowork-chat/internal/repositories"
)

const (
	maxContentLength = 10000
	defaultPageSize  = 100
	maxPageSize      = 200
)

// One failure per operation: callers must not learn which gate failed.
var (
	errCannotEdit   = apperrors.NotPermitted("message cannot be edited")
	errCannotDelete = apperrors.NotPermitted("message cannot be deleted")
)

// SendRequest is a new message addressed either to a peer or to an existing
// conversation.
type SendRequest struct {
	SenderID       int
	RecipientID    int
	ConversationID int
	Content        string
	Attachment     *models.Attachment
}

// MessageService owns the message lifecycle: create, edit, soft delete, list.
type MessageService struct {
	messages      repositories.MessageRepository
	reactions     repositories.ReactionRepository
	conversations repositories.ConversationRepository
	users         repositories.UserRepository
	resolver      *ConversationService
	permissions   *Permissions
	fanout        *Fanout
	emitter       Emitter
	window        time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

func NewMessageService(
	messages repositories.MessageRepository,
	reactions repositories.ReactionRepository,
	conversations repositories.ConversationRepository,
	users repositories.UserRepository,
	resolver *ConversationService,
	permissions *Permissions,
	fanout *Fanout,
	emitter Emitter,
	window time.Duration,
	logger *zap.Logger,
) *MessageService {
	return &MessageService{
		messages:      messages,
		reactions:     reactions,
		conversations: conversations,
		users:         users,
		resolver:      resolver,
		permissions:   permissions,
		fanout:        fanout,
		emitter:       emitter,
		window:        window,
		logger:        logging.OrNop(logger),
		now:           time.Now,
	}
}

// Create persists a message, notifies offline recipients and then delivers
// it to every participant, the sender's other devices included.
func (s *MessageService) Create(ctx context.Context, req SendRequest) (models.Message, error) {
	hasAttachment := req.Attachment != nil && req.Attachment.URL != ""
	if req.Content == "" && !hasAttachment {
		return models.Message{}, apperrors.InvalidRequest("message needs content or an attachment")
	}
	if utf8.RuneCountInString(req.Content) > maxContentLength {
		return models.Message{}, apperrors.InvalidRequest("message content is too long")
	}

	conv, err := s.resolveTarget(ctx, req)
	if err != nil {
		return models.Message{}, err
	}

	msg := models.Message{
		ConversationID: conv.ID,
		SenderID:       req.SenderID,
		Content:        req.Content,
		CreatedAt:      s.now().UTC(),
	}
	if hasAttachment {
		msg.AttachmentURL = &req.Attachment.URL
		if req.Attachment.Filename != "" {
			msg.AttachmentFilename = &req.Attachment.Filename
		}
		if req.Attachment.MimeType != "" {
			msg.AttachmentMimeType = &req.Attachment.MimeType
		}
	}

	saved, err := s.messages.Create(ctx, msg)
	if err != nil {
		return models.Message{}, apperrors.Internal("save message", err)
	}
	observability.IncMessagesCreated()
	saved = saved.Presented()

	senderName := s.senderName(ctx, req.SenderID)
	s.fanout.Notify(ctx, conv, saved, senderName)

	s.emitter.EmitToUsers(conv.ParticipantIDs(), models.EventReceiveMessage, saved)
	if recipients := othersThan(conv, req.SenderID); len(recipients) > 0 {
		s.emitter.EmitToUsers(recipients, models.EventNewMessageNote, models.NewMessageNotification{
			MessageID:      saved.ID,
			ConversationID: saved.ConversationID,
			SenderID:       saved.SenderID,
			SenderName:     senderName,
			Preview:        Preview(saved),
			CreatedAt:      saved.CreatedAt,
		})
	}
	publishDomainEvent(ctx, s.logger, observability.RoutingMessageCreated, "message_created", saved)
	return saved, nil
}

func (s *MessageService) resolveTarget(ctx context.Context, req SendRequest) (models.Conversation, error) {
	if req.ConversationID > 0 {
		conv, err := s.conversations.GetForParticipant(ctx, req.ConversationID, req.SenderID)
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Conversation{}, apperrors.InvalidRequest("conversation not found")
		}
		if err != nil {
			return models.Conversation{}, apperrors.Internal("load conversation", err)
		}
		for _, peerID := range othersThan(conv, req.SenderID) {
			if _, err := s.permissions.CanMessage(ctx, req.SenderID, peerID); err != nil {
				return models.Conversation{}, err
			}
		}
		return conv, nil
	}
	if req.RecipientID <= 0 {
		return models.Conversation{}, apperrors.InvalidRequest("recipient or conversation is required")
	}
	if req.RecipientID == req.SenderID {
		return models.Conversation{}, apperrors.InvalidRequest("cannot message yourself")
	}
	return s.resolver.Resolve(ctx, req.SenderID, req.RecipientID)
}

func (s *MessageService) senderName(ctx context.Context, senderID int) string {
	user, err := s.users.GetUser(ctx, senderID)
	if err != nil || user.FullName == "" {
		if err != nil && !errors.Is(err, repositories.ErrUserNotFound) {
			s.logger.Warn("load sender name", zap.Int("user_id", senderID), zap.Error(err))
		}
		return "Someone"
	}
	return user.FullName
}

// mutable applies the edit/delete gate: the requester sent the message, it is
// not deleted, and the window measured from creation is still open.
func (s *MessageService) mutable(msg models.Message, userID int, now time.Time) bool {
	if msg.SenderID != userID || msg.IsDeleted {
		return false
	}
	return !now.After(msg.CreatedAt.Add(s.window))
}

// Edit replaces the content of a message. The creation timestamp never moves,
// so repeated edits cannot extend the window.
func (s *MessageService) Edit(ctx context.Context, messageID, userID int, content string) (models.Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, errCannotEdit.Wrap(err)
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("load message", err)
	}

	now := s.now().UTC()
	if !s.mutable(msg, userID, now) {
		return models.Message{}, errCannotEdit
	}
	if content == "" && !msg.HasAttachment() {
		return models.Message{}, apperrors.InvalidRequest("message needs content or an attachment")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return models.Message{}, apperrors.InvalidRequest("message content is too long")
	}

	updated, err := s.messages.UpdateContent(ctx, messageID, userID, content, now, now.Add(-s.window))
	if errors.Is(err, repositories.ErrMessageNotMutable) {
		return models.Message{}, errCannotEdit.Wrap(err)
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("update message", err)
	}

	updated = s.withReactions(ctx, updated).Presented()
	s.broadcastToConversation(ctx, updated.ConversationID, models.EventMessageUpdated, updated)
	publishDomainEvent(ctx, s.logger, observability.RoutingMessageUpdated, "message_updated", updated)
	return updated, nil
}

// Delete soft-deletes a message. Deleting an already deleted message of one's
// own returns it unchanged.
func (s *MessageService) Delete(ctx context.Context, messageID, userID int) (models.Message, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, errCannotDelete.Wrap(err)
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("load message", err)
	}
	if msg.IsDeleted && msg.SenderID == userID {
		return s.withReactions(ctx, msg).Presented(), nil
	}

	now := s.now().UTC()
	if !s.mutable(msg, userID, now) {
		return models.Message{}, errCannotDelete
	}

	deleted, err := s.messages.SoftDelete(ctx, messageID, userID, now, now.Add(-s.window))
	if errors.Is(err, repositories.ErrMessageNotMutable) {
		// A concurrent delete from another device won the race.
		current, getErr := s.messages.Get(ctx, messageID)
		if getErr == nil && current.IsDeleted && current.SenderID == userID {
			return s.withReactions(ctx, current).Presented(), nil
		}
		return models.Message{}, errCannotDelete.Wrap(err)
	}
	if err != nil {
		return models.Message{}, apperrors.Internal("delete message", err)
	}

	deleted = s.withReactions(ctx, deleted).Presented()
	s.broadcastToConversation(ctx, deleted.ConversationID, models.EventMessageDeleted, deleted)
	publishDomainEvent(ctx, s.logger, observability.RoutingMessageDeleted, "message_deleted", deleted)
	return deleted, nil
}

// List returns a page of the conversation oldest first. limit <= 0 means the
// default page size.
func (s *MessageService) List(ctx context.Context, conversationID, userID, skip, limit int) ([]models.Message, error) {
	if skip < 0 {
		return nil, apperrors.InvalidRequest("skip must not be negative")
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	if _, err := s.conversations.GetForParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return nil, errConversationNotFound
		}
		return nil, apperrors.Internal("load conversation", err)
	}

	msgs, err := s.messages.ListForConversation(ctx, conversationID, skip, limit)
	if err != nil {
		return nil, apperrors.Internal("list messages", err)
	}
	ids := make([]int, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	reactions, err := s.reactions.ListForMessages(ctx, ids)
	if err != nil {
		return nil, apperrors.Internal("list reactions", err)
	}

	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		m.Reactions = reactions[m.ID]
		out = append(out, m.Presented())
	}
	return out, nil
}

func (s *MessageService) withReactions(ctx context.Context, msg models.Message) models.Message {
	reactions, err := s.reactions.ListForMessage(ctx, msg.ID)
	if err != nil {
		s.logger.Warn("load reactions", zap.Int("message_id", msg.ID), zap.Error(err))
		return msg
	}
	msg.Reactions = reactions
	return msg
}

func (s *MessageService) broadcastToConversation(ctx context.Context, conversationID int, event string, data any) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		s.logger.Warn("load conversation for broadcast", zap.Int("conversation_id", conversationID), zap.String("event", event), zap.Error(err))
		return
	}
	s.emitter.EmitToUsers(conv.ParticipantIDs(), event, data)
}
