package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ repositories.MessageRepository      = (*MessageRepositoryMock)(nil)
	_ repositories.ReactionRepository     = (*ReactionRepositoryMock)(nil)
	_ repositories.NotificationRepository = (*NotificationRepositoryMock)(nil)
	_ repositories.UserRepository         = (*UserRepositoryMock)(nil)
	_ repositories.ConnectionRepository   = (*ConnectionRepositoryMock)(nil)
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func conversationArg(args mock.Arguments) models.Conversation {
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv
}

func (m *ConversationRepositoryMock) ResolveOrCreate(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	return conversationArg(args), args.Error(1)
}

func (m *ConversationRepositoryMock) ResolveOrCreateExternal(ctx context.Context, initiatorID int, recipientID int) (models.Conversation, error) {
	args := m.Called(ctx, initiatorID, recipientID)
	return conversationArg(args), args.Error(1)
}

func (m *ConversationRepositoryMock) GetForParticipant(ctx context.Context, conversationID int, userID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID, userID)
	return conversationArg(args), args.Error(1)
}

func (m *ConversationRepositoryMock) GetByID(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	return conversationArg(args), args.Error(1)
}

func (m *ConversationRepositoryMock) FindBetween(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	args := m.Called(ctx, userA, userB)
	return conversationArg(args), args.Error(1)
}

func (m *ConversationRepositoryMock) ListForUser(ctx context.Context, userID int) ([]repositories.ConversationListRow, error) {
	args := m.Called(ctx, userID)
	var rows []repositories.ConversationListRow
	if val := args.Get(0); val != nil {
		rows = val.([]repositories.ConversationListRow)
	}
	return rows, args.Error(1)
}

func (m *ConversationRepositoryMock) HasExternalBetween(ctx context.Context, userA int, userB int) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) PromoteExternal(ctx context.Context, userA int, userB int) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) MarkRead(ctx context.Context, conversationID int, userID int, at time.Time) (bool, error) {
	args := m.Called(ctx, conversationID, userID, at)
	return args.Bool(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func messageArg(args mock.Arguments) models.Message {
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg
}

func (m *MessageRepositoryMock) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	return messageArg(args), args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	return messageArg(args), args.Error(1)
}

func (m *MessageRepositoryMock) ListForConversation(ctx context.Context, conversationID int, skip int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, skip, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) UpdateContent(ctx context.Context, messageID int, senderID int, content string, editedAt time.Time, notBefore time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, senderID, content, editedAt, notBefore)
	return messageArg(args), args.Error(1)
}

func (m *MessageRepositoryMock) SoftDelete(ctx context.Context, messageID int, senderID int, deletedAt time.Time, notBefore time.Time) (models.Message, error) {
	args := m.Called(ctx, messageID, senderID, deletedAt, notBefore)
	return messageArg(args), args.Error(1)
}

type ReactionRepositoryMock struct {
	mock.Mock
}

func (m *ReactionRepositoryMock) Find(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reaction models.Reaction
	if val := args.Get(0); val != nil {
		reaction = val.(models.Reaction)
	}
	return reaction, args.Bool(1), args.Error(2)
}

func (m *ReactionRepositoryMock) Insert(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	var reaction models.Reaction
	if val := args.Get(0); val != nil {
		reaction = val.(models.Reaction)
	}
	return reaction, args.Error(1)
}

func (m *ReactionRepositoryMock) Delete(ctx context.Context, messageID int, userID int, emoji string) (bool, error) {
	args := m.Called(ctx, messageID, userID, emoji)
	return args.Bool(0), args.Error(1)
}

func (m *ReactionRepositoryMock) ListForMessage(ctx context.Context, messageID int) ([]models.Reaction, error) {
	args := m.Called(ctx, messageID)
	var reactions []models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.([]models.Reaction)
	}
	return reactions, args.Error(1)
}

func (m *ReactionRepositoryMock) ListForMessages(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error) {
	args := m.Called(ctx, messageIDs)
	var reactions map[int][]models.Reaction
	if val := args.Get(0); val != nil {
		reactions = val.(map[int][]models.Reaction)
	}
	return reactions, args.Error(1)
}

type NotificationRepositoryMock struct {
	mock.Mock
}

func (m *NotificationRepositoryMock) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	args := m.Called(ctx, n)
	var out models.Notification
	if val := args.Get(0); val != nil {
		out = val.(models.Notification)
	}
	return out, args.Error(1)
}

func (m *NotificationRepositoryMock) MarkReadByReference(ctx context.Context, userID int, reference string) (int64, error) {
	args := m.Called(ctx, userID, reference)
	return args.Get(0).(int64), args.Error(1)
}

type UserRepositoryMock struct {
	mock.Mock
}

func (m *UserRepositoryMock) GetUser(ctx context.Context, userID int) (models.UserInfo, error) {
	args := m.Called(ctx, userID)
	var user models.UserInfo
	if val := args.Get(0); val != nil {
		user = val.(models.UserInfo)
	}
	return user, args.Error(1)
}

type ConnectionRepositoryMock struct {
	mock.Mock
}

func (m *ConnectionRepositoryMock) AreConnected(ctx context.Context, userA int, userB int) (bool, error) {
	args := m.Called(ctx, userA, userB)
	return args.Bool(0), args.Error(1)
}
