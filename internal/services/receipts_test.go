package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/models"
	"cowork-chat/internal/repositories"
)

func TestMarkConversationReadResolvesNotifications(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.convs.On("GetByID", mock.Anything, 10).Return(pairConversation(10, 1, 2), nil)
	f.convs.On("MarkRead", mock.Anything, 10, 2, f.now).Return(true, nil)
	f.notes.On("MarkReadByReference", mock.Anything, 2, "conversation:10").Return(int64(1), nil)

	ok, err := f.receipts.MarkConversationRead(ctx, 10, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	reads := f.emitter.ByEvent(models.EventMessagesRead)
	require.Len(t, reads, 1)
	assert.Equal(t, []int{1}, reads[0].UserIDs)
	payload := reads[0].Data.(models.MessagesRead)
	assert.Equal(t, 2, payload.ReaderID)
	assert.Equal(t, f.now, payload.ReadAt)

	// The message that triggered the notification is now behind the watermark.
	last := &models.LastMessagePreview{ID: 100, SenderID: 1, CreatedAt: f.now.Add(-time.Second)}
	watermark := f.now
	assert.False(t, ComputeUnread(last, &watermark, 2))
	f.assertExpectations(t)
}

func TestMarkConversationReadNonParticipant(t *testing.T) {
	f := newFixture(t)
	f.convs.On("GetByID", mock.Anything, 10).Return(pairConversation(10, 1, 2), nil)
	f.convs.On("GetByID", mock.Anything, 11).Return(nil, repositories.ErrConversationNotFound)

	ok, err := f.receipts.MarkConversationRead(context.Background(), 10, 3)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.receipts.MarkConversationRead(context.Background(), 11, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	f.convs.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, f.emitter.All())
}

func TestMarkConversationReadNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.convs.On("GetByID", mock.Anything, 10).Return(pairConversation(10, 1, 2), nil)
	f.convs.On("MarkRead", mock.Anything, 10, 2, mock.Anything).Return(true, nil)
	f.notes.On("MarkReadByReference", mock.Anything, 2, "conversation:10").Return(int64(0), errors.New("timeout"))

	_, err := f.receipts.MarkConversationRead(context.Background(), 10, 2)
	assert.True(t, apperrors.Is(err, apperrors.KindInternal))
}

func TestMarkReadWithPartnerNeverCreates(t *testing.T) {
	f := newFixture(t)
	f.convs.On("FindBetween", mock.Anything, 1, 5).Return(nil, repositories.ErrConversationNotFound)

	id, ok, err := f.receipts.MarkReadWithPartner(context.Background(), 1, 5)
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.False(t, ok)
	f.convs.AssertNotCalled(t, "ResolveOrCreate", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkReadWithPartner(t *testing.T) {
	f := newFixture(t)
	conv := pairConversation(10, 1, 2)
	f.convs.On("FindBetween", mock.Anything, 1, 2).Return(conv, nil)
	f.convs.On("GetByID", mock.Anything, 10).Return(conv, nil)
	f.convs.On("MarkRead", mock.Anything, 10, 1, f.now).Return(true, nil)
	f.notes.On("MarkReadByReference", mock.Anything, 1, "conversation:10").Return(int64(0), nil)

	id, ok, err := f.receipts.MarkReadWithPartner(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 10, id)
	assert.True(t, ok)
}

func TestComputeUnread(t *testing.T) {
	base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	earlier := base.Add(-time.Minute)
	later := base.Add(time.Minute)
	plus2 := time.FixedZone("UTC+2", 2*60*60)
	sameInstantElsewhere := base.In(plus2)

	tests := []struct {
		name      string
		last      *models.LastMessagePreview
		watermark *time.Time
		want      bool
	}{
		{name: "no messages", last: nil, watermark: nil, want: false},
		{name: "own message", last: &models.LastMessagePreview{SenderID: 1, CreatedAt: base}, watermark: nil, want: false},
		{name: "never read", last: &models.LastMessagePreview{SenderID: 2, CreatedAt: base}, watermark: nil, want: true},
		{name: "read before message", last: &models.LastMessagePreview{SenderID: 2, CreatedAt: base}, watermark: &earlier, want: true},
		{name: "read after message", last: &models.LastMessagePreview{SenderID: 2, CreatedAt: base}, watermark: &later, want: false},
		{name: "same instant other zone", last: &models.LastMessagePreview{SenderID: 2, CreatedAt: base}, watermark: &sameInstantElsewhere, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeUnread(tt.last, tt.watermark, 1))
		})
	}
}
