package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"

	"cowork-chat/internal/mocks"
	"cowork-chat/internal/models"
	"cowork-chat/internal/services"
)

type auditSinkMock struct {
	mock.Mock
}

func (m *auditSinkMock) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	m.Called(ctx, level, text, requestID, userID)
}

func (m *auditSinkMock) EmitMessageMutation(ctx context.Context, mutation string, conversationID, messageID int, requestID string, userID *string) {
	m.Called(ctx, mutation, conversationID, messageID, requestID, userID)
}

type handlerEnv struct {
	convs     *mocks.ConversationRepositoryMock
	msgs      *mocks.MessageRepositoryMock
	reactions *mocks.ReactionRepositoryMock
	notes     *mocks.NotificationRepositoryMock
	users     *mocks.UserRepositoryMock
	conns     *mocks.ConnectionRepositoryMock
	tracker   *mocks.TrackerMock
	emitter   *mocks.EmitterRecorder
	audit     *auditSinkMock

	router *gin.Engine
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	env := &handlerEnv{
		convs:     &mocks.ConversationRepositoryMock{},
		msgs:      &mocks.MessageRepositoryMock{},
		reactions: &mocks.ReactionRepositoryMock{},
		notes:     &mocks.NotificationRepositoryMock{},
		users:     &mocks.UserRepositoryMock{},
		conns:     &mocks.ConnectionRepositoryMock{},
		tracker:   &mocks.TrackerMock{},
		emitter:   &mocks.EmitterRecorder{},
		audit:     &auditSinkMock{},
	}

	perms := services.NewPermissions(env.conns, env.convs, env.users, time.Minute, nil)
	convSvc := services.NewConversationService(env.convs, perms, nil)
	fanout := services.NewFanout(env.notes, env.tracker, nil)
	msgSvc := services.NewMessageService(env.msgs, env.reactions, env.convs, env.users, convSvc, perms, fanout, env.emitter, 5*time.Minute, nil)
	reactSvc := services.NewReactionService(env.reactions, env.msgs, env.convs, env.emitter, nil)
	receipts := services.NewReceiptService(env.convs, env.notes, env.emitter, nil)

	env.router = setupChatRouter(
		NewConversationHandler(convSvc, msgSvc, receipts, nil),
		NewMessageHandler(msgSvc, reactSvc, env.audit, nil),
	)
	return env
}

func setupChatRouter(conversations *ConversationHandler, messages *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	RegisterChatRoutes(r, conversations, messages)
	return r
}

func (env *handlerEnv) assertExpectations(t *testing.T) {
	t.Helper()
	env.convs.AssertExpectations(t)
	env.msgs.AssertExpectations(t)
	env.reactions.AssertExpectations(t)
	env.notes.AssertExpectations(t)
	env.users.AssertExpectations(t)
	env.conns.AssertExpectations(t)
	env.tracker.AssertExpectations(t)
	env.audit.AssertExpectations(t)
}

func pairConversation(id, a, b int) models.Conversation {
	return models.Conversation{
		ID: id,
		Participants: []models.Participant{
			{ConversationID: id, UserID: a},
			{ConversationID: id, UserID: b},
		},
	}
}
