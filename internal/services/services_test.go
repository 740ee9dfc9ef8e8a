package services

import (
	"testing"
	"time"

	"cowork-chat/internal/mocks"
	"cowork-chat/internal/models"
)

type fixture struct {
	convs     *mocks.ConversationRepositoryMock
	msgs      *mocks.MessageRepositoryMock
	reactions *mocks.ReactionRepositoryMock
	notes     *mocks.NotificationRepositoryMock
	users     *mocks.UserRepositoryMock
	conns     *mocks.ConnectionRepositoryMock
	tracker   *mocks.TrackerMock
	emitter   *mocks.EmitterRecorder

	perms    *Permissions
	convSvc  *ConversationService
	msgSvc   *MessageService
	reactSvc *ReactionService
	receipts *ReceiptService
	fanout   *Fanout

	now time.Time
}

const testWindow = 300 * time.Second

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		convs:     &mocks.ConversationRepositoryMock{},
		msgs:      &mocks.MessageRepositoryMock{},
		reactions: &mocks.ReactionRepositoryMock{},
		notes:     &mocks.NotificationRepositoryMock{},
		users:     &mocks.UserRepositoryMock{},
		conns:     &mocks.ConnectionRepositoryMock{},
		tracker:   &mocks.TrackerMock{},
		emitter:   &mocks.EmitterRecorder{},
		now:       time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }

	f.perms = NewPermissions(f.conns, f.convs, f.users, time.Minute, nil)
	f.perms.now = clock
	f.convSvc = NewConversationService(f.convs, f.perms, nil)
	f.fanout = NewFanout(f.notes, f.tracker, nil)
	f.msgSvc = NewMessageService(f.msgs, f.reactions, f.convs, f.users, f.convSvc, f.perms, f.fanout, f.emitter, testWindow, nil)
	f.msgSvc.now = clock
	f.reactSvc = NewReactionService(f.reactions, f.msgs, f.convs, f.emitter, nil)
	f.receipts = NewReceiptService(f.convs, f.notes, f.emitter, nil)
	f.receipts.now = clock
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.convs.AssertExpectations(t)
	f.msgs.AssertExpectations(t)
	f.reactions.AssertExpectations(t)
	f.notes.AssertExpectations(t)
	f.users.AssertExpectations(t)
	f.conns.AssertExpectations(t)
	f.tracker.AssertExpectations(t)
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

func strPtr(s string) *string { return &s }
