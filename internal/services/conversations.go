package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

var errConversationNotFound = apperrors.NotFound("conversation not found")

// ConversationService resolves, fetches and lists conversations.
type ConversationService struct {
	conversations repositories.ConversationRepository
	permissions   *Permissions
	logger        *zap.Logger
}

func NewConversationService(conversations repositories.ConversationRepository, permissions *Permissions, logger *zap.Logger) *ConversationService {
	return &ConversationService{conversations: conversations, permissions: permissions, logger: logging.OrNop(logger)}
}

// Resolve returns the conversation userID may use to message peerID, creating
// it when needed. An ordinary conversation is used for connected pairs, an
// external one otherwise.
func (s *ConversationService) Resolve(ctx context.Context, userID, peerID int) (models.Conversation, error) {
	if userID == peerID {
		return models.Conversation{}, apperrors.InvalidRequest("cannot start a conversation with yourself")
	}
	grant, err := s.permissions.CanMessage(ctx, userID, peerID)
	if err != nil {
		return models.Conversation{}, err
	}
	return s.resolveWithGrant(ctx, userID, peerID, grant)
}

// ResolveExternal opens (or returns) an external conversation. Only identities
// holding an external grant may use it.
func (s *ConversationService) ResolveExternal(ctx context.Context, initiatorID, recipientID int) (models.Conversation, error) {
	if initiatorID == recipientID {
		return models.Conversation{}, apperrors.InvalidRequest("cannot start a conversation with yourself")
	}
	grant, err := s.permissions.CanMessage(ctx, initiatorID, recipientID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !grant.External() {
		return s.resolveWithGrant(ctx, initiatorID, recipientID, grant)
	}
	conv, err := s.conversations.ResolveOrCreateExternal(ctx, initiatorID, recipientID)
	if err != nil {
		return models.Conversation{}, apperrors.Internal("resolve external conversation", err)
	}
	return conv, nil
}

func (s *ConversationService) resolveWithGrant(ctx context.Context, userID, peerID int, grant Grant) (models.Conversation, error) {
	var (
		conv models.Conversation
		err  error
	)
	if grant.External() {
		conv, err = s.conversations.ResolveOrCreateExternal(ctx, userID, peerID)
	} else {
		conv, err = s.conversations.ResolveOrCreate(ctx, userID, peerID)
	}
	if err != nil {
		return models.Conversation{}, apperrors.Internal("resolve conversation", err)
	}
	return conv, nil
}

// Get returns the conversation only to its participants; everyone else sees
// NotFound.
func (s *ConversationService) Get(ctx context.Context, conversationID, userID int) (models.Conversation, error) {
	conv, err := s.conversations.GetForParticipant(ctx, conversationID, userID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		return models.Conversation{}, errConversationNotFound.Wrap(err)
	}
	if err != nil {
		return models.Conversation{}, apperrors.Internal("load conversation", err)
	}
	return conv, nil
}

// List returns the user's conversations, most recent message first and
// conversations without messages last.
func (s *ConversationService) List(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	rows, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Internal("list conversations", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(rows))
	for _, row := range rows {
		summary := models.ConversationSummary{
			ID:         row.ConversationID,
			IsExternal: row.IsExternal,
			CreatedAt:  row.CreatedAt.UTC(),
		}
		if row.OtherUserID.Valid {
			summary.OtherUser = &models.UserInfo{ID: int(row.OtherUserID.Int64), FullName: row.OtherUserName.String}
		}
		if row.LastMessageID.Valid {
			content := row.LastMessageContent.String
			if row.LastMessageDeleted.Valid && row.LastMessageDeleted.Bool {
				content = ""
			}
			summary.LastMessage = &models.LastMessagePreview{
				ID:        int(row.LastMessageID.Int64),
				SenderID:  int(row.LastMessageSenderID.Int64),
				Content:   content,
				CreatedAt: row.LastMessageCreatedAt.Time.UTC(),
			}
		}
		summary.HasUnreadMessages = ComputeUnread(summary.LastMessage, row.LastReadAt, userID)
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return lastActivity(summaries[i]).After(lastActivity(summaries[j]))
	})
	return summaries, nil
}

func lastActivity(s models.ConversationSummary) time.Time {
	if s.LastMessage == nil {
		return time.Time{}
	}
	return s.LastMessage.CreatedAt
}
