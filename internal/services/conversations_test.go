package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

func TestResolveUsesExternalForPrivilegedSender(t *testing.T) {
	f := newFixture(t)
	external := pairConversation(11, 1, 9)
	external.IsExternal = true

	f.conns.On("AreConnected", mock.Anything, 1, 9).Return(false, nil)
	f.convs.On("HasExternalBetween", mock.Anything, 1, 9).Return(false, nil)
	f.users.On("GetUser", mock.Anything, 1).Return(models.UserInfo{ID: 1, Role: models.RoleSysAdmin}, nil)
	f.convs.On("ResolveOrCreateExternal", mock.Anything, 1, 9).Return(external, nil)

	conv, err := f.convSvc.Resolve(context.Background(), 1, 9)
	require.NoError(t, err)
	assert.True(t, conv.IsExternal)
	f.convs.AssertNotCalled(t, "ResolveOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestResolveIsStableForPair(t *testing.T) {
	f := newFixture(t)
	conv := pairConversation(10, 1, 2)
	f.conns.On("AreConnected", mock.Anything, 1, 2).Return(true, nil)
	f.convs.On("PromoteExternal", mock.Anything, 1, 2).Return(false, nil)
	f.convs.On("ResolveOrCreate", mock.Anything, 1, 2).Return(conv, nil)
	f.convs.On("ResolveOrCreate", mock.Anything, 2, 1).Return(conv, nil)

	a, err := f.convSvc.Resolve(context.Background(), 1, 2)
	require.NoError(t, err)
	b, err := f.convSvc.Resolve(context.Background(), 2, 1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
}

func TestResolveExternalWithConnectionFallsBackToOrdinary(t *testing.T) {
	f := newFixture(t)
	f.conns.On("AreConnected", mock.Anything, 1, 2).Return(true, nil)
	f.convs.On("PromoteExternal", mock.Anything, 1, 2).Return(false, nil)
	f.convs.On("ResolveOrCreate", mock.Anything, 1, 2).Return(pairConversation(10, 1, 2), nil)

	conv, err := f.convSvc.ResolveExternal(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, conv.IsExternal)
}

func TestGetConversationHidesFromOutsiders(t *testing.T) {
	f := newFixture(t)
	f.convs.On("GetForParticipant", mock.Anything, 10, 3).Return(nil, repositories.ErrConversationNotFound)

	_, err := f.convSvc.Get(context.Background(), 10, 3)
	assert.True(t, apperrors.Is(err, apperrors.KindNotFound))
}

func TestListConversationsOrderingAndUnread(t *testing.T) {
	f := newFixture(t)
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	readAt := base.Add(-time.Hour)

	rows := []repositories.ConversationListRow{
		{ConversationID: 1, CreatedAt: base, OtherUserID: sql.NullInt64{Int64: 5, Valid: true}, OtherUserName: sql.NullString{String: "Empty", Valid: true}},
		{
			ConversationID:       2,
			CreatedAt:            base,
			LastReadAt:           &readAt,
			OtherUserID:          sql.NullInt64{Int64: 6, Valid: true},
			LastMessageID:        sql.NullInt64{Int64: 20, Valid: true},
			LastMessageSenderID:  sql.NullInt64{Int64: 6, Valid: true},
			LastMessageContent:   sql.NullString{String: "older", Valid: true},
			LastMessageCreatedAt: sql.NullTime{Time: base.Add(-2 * time.Hour), Valid: true},
		},
		{
			ConversationID:       3,
			CreatedAt:            base,
			LastReadAt:           &readAt,
			OtherUserID:          sql.NullInt64{Int64: 7, Valid: true},
			LastMessageID:        sql.NullInt64{Int64: 30, Valid: true},
			LastMessageSenderID:  sql.NullInt64{Int64: 7, Valid: true},
			LastMessageContent:   sql.NullString{String: "gone", Valid: true},
			LastMessageDeleted:   sql.NullBool{Bool: true, Valid: true},
			LastMessageCreatedAt: sql.NullTime{Time: base, Valid: true},
		},
	}
	f.convs.On("ListForUser", mock.Anything, 1).Return(rows, nil)

	out, err := f.convSvc.List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, 3, out[0].ID)
	assert.True(t, out[0].HasUnreadMessages)
	assert.Empty(t, out[0].LastMessage.Content)

	assert.Equal(t, 2, out[1].ID)
	assert.False(t, out[1].HasUnreadMessages)

	assert.Equal(t, 1, out[2].ID)
	assert.Nil(t, out[2].LastMessage)
	assert.False(t, out[2].HasUnreadMessages)
	assert.Equal(t, "Empty", out[2].OtherUser.FullName)
}
