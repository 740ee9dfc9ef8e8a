package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

func serve(env *handlerEnv, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestListConversationsSuccess(t *testing.T) {
	env := newHandlerEnv(t)
	older := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	env.convs.On("ListForUser", mock.Anything, 1).Return([]repositories.ConversationListRow{
		{
			ConversationID:       3,
			CreatedAt:            older,
			OtherUserID:          sql.NullInt64{Int64: 2, Valid: true},
			OtherUserName:        sql.NullString{String: "Bob", Valid: true},
			LastMessageID:        sql.NullInt64{Int64: 7, Valid: true},
			LastMessageSenderID:  sql.NullInt64{Int64: 2, Valid: true},
			LastMessageContent:   sql.NullString{String: "old", Valid: true},
			LastMessageCreatedAt: sql.NullTime{Time: older, Valid: true},
		},
		{
			ConversationID:       4,
			IsExternal:           true,
			CreatedAt:            older,
			LastReadAt:           &newer,
			OtherUserID:          sql.NullInt64{Int64: 5, Valid: true},
			LastMessageID:        sql.NullInt64{Int64: 9, Valid: true},
			LastMessageSenderID:  sql.NullInt64{Int64: 5, Valid: true},
			LastMessageContent:   sql.NullString{String: "new", Valid: true},
			LastMessageCreatedAt: sql.NullTime{Time: newer, Valid: true},
		},
	}, nil).Once()

	rec := serve(env, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Conversations []models.ConversationSummary `json:"conversations"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Conversations, 2)
	assert.Equal(t, 4, resp.Conversations[0].ID)
	assert.True(t, resp.Conversations[0].IsExternal)
	assert.False(t, resp.Conversations[0].HasUnreadMessages)
	assert.Equal(t, 3, resp.Conversations[1].ID)
	assert.True(t, resp.Conversations[1].HasUnreadMessages)
	env.assertExpectations(t)
}

func TestListConversationsStorageError(t *testing.T) {
	env := newHandlerEnv(t)
	env.convs.On("ListForUser", mock.Anything, 1).Return(nil, errors.New("pq: connection refused")).Once()

	rec := serve(env, http.MethodGet, "/conversations", nil)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decodeBody(t, rec)["error"])
	env.assertExpectations(t)
}

func TestStartConversationSuccess(t *testing.T) {
	env := newHandlerEnv(t)
	env.conns.On("AreConnected", mock.Anything, 1, 2).Return(true, nil).Once()
	env.convs.On("PromoteExternal", mock.Anything, 1, 2).Return(false, nil).Once()
	env.convs.On("ResolveOrCreate", mock.Anything, 1, 2).Return(pairConversation(10, 1, 2), nil).Once()

	rec := serve(env, http.MethodPost, "/conversations", gin.H{"peer_id": 2})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 10, decodeBody(t, rec)["id"])
	env.assertExpectations(t)
}

func TestStartConversationDenied(t *testing.T) {
	env := newHandlerEnv(t)
	env.conns.On("AreConnected", mock.Anything, 1, 2).Return(false, nil).Once()
	env.convs.On("HasExternalBetween", mock.Anything, 1, 2).Return(false, nil).Once()
	env.users.On("GetUser", mock.Anything, 1).Return(models.UserInfo{ID: 1, Role: "MEMBER", IsActive: true}, nil).Once()

	rec := serve(env, http.MethodPost, "/conversations", gin.H{"peer_id": 2})

	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "you cannot message this user", decodeBody(t, rec)["error"])
	env.assertExpectations(t)
}

func TestStartConversationValidation(t *testing.T) {
	env := newHandlerEnv(t)

	rec := serve(env, http.MethodPost, "/conversations", gin.H{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(env, http.MethodPost, "/conversations", gin.H{"peer_id": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	env.assertExpectations(t)
}

func TestStartExternalConversationPrivileged(t *testing.T) {
	env := newHandlerEnv(t)
	conv := pairConversation(11, 1, 9)
	conv.IsExternal = true
	env.conns.On("AreConnected", mock.Anything, 1, 9).Return(false, nil).Once()
	env.convs.On("HasExternalBetween", mock.Anything, 1, 9).Return(false, nil).Once()
	env.users.On("GetUser", mock.Anything, 1).Return(models.UserInfo{ID: 1, Role: models.RoleCorpAdmin, IsActive: true}, nil).Once()
	env.convs.On("ResolveOrCreateExternal", mock.Anything, 1, 9).Return(conv, nil).Once()

	rec := serve(env, http.MethodPost, "/conversations/external", gin.H{"recipient_id": 9})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["is_external"])
	env.assertExpectations(t)
}

func TestGetConversation(t *testing.T) {
	t.Run("participant", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.convs.On("GetForParticipant", mock.Anything, 10, 1).Return(pairConversation(10, 1, 2), nil).Once()

		rec := serve(env, http.MethodGet, "/conversations/10", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		env.assertExpectations(t)
	})

	t.Run("outsider sees not found", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.convs.On("GetForParticipant", mock.Anything, 10, 1).Return(nil, repositories.ErrConversationNotFound).Once()

		rec := serve(env, http.MethodGet, "/conversations/10", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "conversation not found", decodeBody(t, rec)["error"])
		env.assertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		env := newHandlerEnv(t)

		rec := serve(env, http.MethodGet, "/conversations/abc", nil)

		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListMessagesQueryValidation(t *testing.T) {
	cases := []string{
		"/conversations/10/messages?limit=0",
		"/conversations/10/messages?limit=201",
		"/conversations/10/messages?limit=abc",
		"/conversations/10/messages?skip=-1",
	}
	for _, path := range cases {
		t.Run(path, func(t *testing.T) {
			env := newHandlerEnv(t)

			rec := serve(env, http.MethodGet, path, nil)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			env.assertExpectations(t)
		})
	}
}

func TestListMessagesDefaultPage(t *testing.T) {
	env := newHandlerEnv(t)
	created := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	env.convs.On("GetForParticipant", mock.Anything, 10, 1).Return(pairConversation(10, 1, 2), nil).Once()
	env.msgs.On("ListForConversation", mock.Anything, 10, 0, 100).Return([]models.Message{
		{ID: 5, ConversationID: 10, SenderID: 2, Content: "secret", IsDeleted: true, CreatedAt: created},
		{ID: 6, ConversationID: 10, SenderID: 1, Content: "hello", CreatedAt: created.Add(time.Minute)},
	}, nil).Once()
	env.reactions.On("ListForMessages", mock.Anything, []int{5, 6}).Return(map[int][]models.Reaction{
		6: {{ID: 1, MessageID: 6, UserID: 2, Emoji: "👍"}},
	}, nil).Once()

	rec := serve(env, http.MethodGet, "/conversations/10/messages", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	assert.Empty(t, resp.Messages[0].Content)
	assert.Equal(t, "hello", resp.Messages[1].Content)
	require.Len(t, resp.Messages[1].Reactions, 1)
	env.assertExpectations(t)
}

func TestPostMessageBroadcasts(t *testing.T) {
	env := newHandlerEnv(t)
	created := time.Now().UTC()
	env.convs.On("GetForParticipant", mock.Anything, 10, 1).Return(pairConversation(10, 1, 2), nil).Once()
	env.conns.On("AreConnected", mock.Anything, 1, 2).Return(true, nil).Once()
	env.convs.On("PromoteExternal", mock.Anything, 1, 2).Return(false, nil).Once()
	env.msgs.On("Create", mock.Anything, mock.MatchedBy(func(m models.Message) bool {
		return m.ConversationID == 10 && m.SenderID == 1 && m.Content == "hi"
	})).Return(models.Message{ID: 5, ConversationID: 10, SenderID: 1, Content: "hi", CreatedAt: created}, nil).Once()
	env.users.On("GetUser", mock.Anything, 1).Return(models.UserInfo{ID: 1, FullName: "Ada", IsActive: true}, nil).Once()
	env.tracker.On("IsOnline", mock.Anything, 2).Return(true, nil).Once()

	rec := serve(env, http.MethodPost, "/conversations/10/messages", gin.H{"content": "hi"})

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.EqualValues(t, 5, decodeBody(t, rec)["id"])
	received := env.emitter.ByEvent(models.EventReceiveMessage)
	require.Len(t, received, 1)
	assert.ElementsMatch(t, []int{1, 2}, received[0].UserIDs)
	require.Len(t, env.emitter.ByEvent(models.EventNewMessageNote), 1)
	env.assertExpectations(t)
}

func TestPostMessageRequiresContent(t *testing.T) {
	env := newHandlerEnv(t)

	rec := serve(env, http.MethodPost, "/conversations/10/messages", gin.H{"content": ""})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "message needs content or an attachment", decodeBody(t, rec)["error"])
	env.assertExpectations(t)
}

func TestMarkRead(t *testing.T) {
	t.Run("participant", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.convs.On("GetByID", mock.Anything, 10).Return(pairConversation(10, 1, 2), nil).Once()
		env.convs.On("MarkRead", mock.Anything, 10, 1, mock.AnythingOfType("time.Time")).Return(true, nil).Once()
		env.notes.On("MarkReadByReference", mock.Anything, 1, "conversation:10").Return(int64(2), nil).Once()

		rec := serve(env, http.MethodPost, "/conversations/10/read", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])
		read := env.emitter.ByEvent(models.EventMessagesRead)
		require.Len(t, read, 1)
		assert.Equal(t, []int{2}, read[0].UserIDs)
		env.assertExpectations(t)
	})

	t.Run("not a participant", func(t *testing.T) {
		env := newHandlerEnv(t)
		env.convs.On("GetByID", mock.Anything, 10).Return(pairConversation(10, 3, 4), nil).Once()

		rec := serve(env, http.MethodPost, "/conversations/10/read", nil)

		require.Equal(t, http.StatusNotFound, rec.Code)
		env.assertExpectations(t)
	})
}

