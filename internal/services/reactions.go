package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
	"cowork-chat/internal/repositories"
)

const (
	maxEmojiLength = 32
	toggleAttempts = 2
)

var errMessageNotFound = apperrors.NotFound("message not found")

// ReactionService is the reaction ledger: toggle, explicit removal, listing.
type ReactionService struct {
	reactions     repositories.ReactionRepository
	messages      repositories.MessageRepository
	conversations repositories.ConversationRepository
	emitter       Emitter
	logger        *zap.Logger
}

func NewReactionService(reactions repositories.ReactionRepository, messages repositories.MessageRepository, conversations repositories.ConversationRepository, emitter Emitter, logger *zap.Logger) *ReactionService {
	return &ReactionService{
		reactions:     reactions,
		messages:      messages,
		conversations: conversations,
		emitter:       emitter,
		logger:        logging.OrNop(logger),
	}
}

// Toggle removes the caller's reaction when present and adds it otherwise.
// It returns the new reaction, or nil when one was removed. A unique-key
// conflict on insert means a concurrent toggle added it first, so the call
// retries as a removal.
func (s *ReactionService) Toggle(ctx context.Context, messageID, userID int, emoji string) (*models.Reaction, error) {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return nil, err
	}
	msg, conv, err := s.load(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, apperrors.NotPermitted("cannot react to a deleted message")
	}

	for attempt := 0; attempt < toggleAttempts; attempt++ {
		_, found, err := s.reactions.Find(ctx, messageID, userID, emoji)
		if err != nil {
			return nil, apperrors.Internal("find reaction", err)
		}
		if found {
			removed, err := s.reactions.Delete(ctx, messageID, userID, emoji)
			if err != nil {
				return nil, apperrors.Internal("remove reaction", err)
			}
			if !removed {
				continue
			}
			s.announce(ctx, conv, msg, nil, userID, emoji, models.ReactionRemoved)
			return nil, nil
		}

		reaction, err := s.reactions.Insert(ctx, messageID, userID, emoji)
		if errors.Is(err, repositories.ErrReactionExists) {
			continue
		}
		if err != nil {
			return nil, apperrors.Internal("add reaction", err)
		}
		s.announce(ctx, conv, msg, &reaction, userID, emoji, models.ReactionAdded)
		return &reaction, nil
	}
	return nil, apperrors.Conflict("reaction changed concurrently, try again")
}

// Remove deletes the caller's reaction; false when there was nothing to remove.
func (s *ReactionService) Remove(ctx context.Context, messageID, userID int, emoji string) (bool, error) {
	emoji, err := normalizeEmoji(emoji)
	if err != nil {
		return false, err
	}
	msg, conv, err := s.load(ctx, messageID, userID)
	if err != nil {
		return false, err
	}
	removed, err := s.reactions.Delete(ctx, messageID, userID, emoji)
	if err != nil {
		return false, apperrors.Internal("remove reaction", err)
	}
	if removed {
		s.announce(ctx, conv, msg, nil, userID, emoji, models.ReactionRemoved)
	}
	return removed, nil
}

// List returns every reaction on a message the caller can see.
func (s *ReactionService) List(ctx context.Context, messageID, userID int) ([]models.Reaction, error) {
	if _, _, err := s.load(ctx, messageID, userID); err != nil {
		return nil, err
	}
	reactions, err := s.reactions.ListForMessage(ctx, messageID)
	if err != nil {
		return nil, apperrors.Internal("list reactions", err)
	}
	if reactions == nil {
		reactions = []models.Reaction{}
	}
	return reactions, nil
}

func (s *ReactionService) load(ctx context.Context, messageID, userID int) (models.Message, models.Conversation, error) {
	msg, err := s.messages.Get(ctx, messageID)
	if errors.Is(err, repositories.ErrMessageNotFound) {
		return models.Message{}, models.Conversation{}, errMessageNotFound.Wrap(err)
	}
	if err != nil {
		return models.Message{}, models.Conversation{}, apperrors.Internal("load message", err)
	}
	conv, err := s.conversations.GetForParticipant(ctx, msg.ConversationID, userID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Message{}, models.Conversation{}, errMessageNotFound.Wrap(err)
	}
	if err != nil {
		return models.Message{}, models.Conversation{}, apperrors.Internal("load conversation", err)
	}
	return msg, conv, nil
}

func (s *ReactionService) announce(ctx context.Context, conv models.Conversation, msg models.Message, reaction *models.Reaction, userID int, emoji, action string) {
	observability.IncReactionToggle(action)
	event := models.ReactionUpdated{
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Reaction:       reaction,
		UserID:         userID,
		Emoji:          emoji,
		Action:         action,
	}
	s.emitter.EmitToUsers(conv.ParticipantIDs(), models.EventReactionUpdated, event)
	publishDomainEvent(ctx, s.logger, observability.RoutingReactionToggle, "reaction_"+action, event)
}

func normalizeEmoji(emoji string) (string, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return "", apperrors.InvalidRequest("emoji is required")
	}
	if utf8.RuneCountInString(emoji) > maxEmojiLength {
		return "", apperrors.InvalidRequest("emoji is too long")
	}
	return emoji, nil
}
