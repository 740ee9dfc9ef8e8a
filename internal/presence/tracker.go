package presence

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
)

// Broadcaster delivers a presence frame to every live session except one.
type Broadcaster interface {
	BroadcastExcept(sessionID string, event string, data any)
}

// Tracker maps transport sessions to identities and owns the online set.
// Only the tracker mutates presence state; everything else reads snapshots.
type Tracker interface {
	Register(ctx context.Context, sessionID string, userID int) error
	// Unregister forgets the session and returns the identity it belonged to
	// (0 when unknown).
	Unregister(ctx context.Context, sessionID string) (int, error)
	IsOnline(ctx context.Context, userID int) (bool, error)
	OnlineSnapshot(ctx context.Context) ([]int, error)
	// Refresh extends the liveness of a session on heartbeat.
	Refresh(ctx context.Context, sessionID string) error
}

const identityStripes = 64

// identityLocks serialises the presence transitions of one identity so its
// announcements go out in the order its state changed.
type identityLocks [identityStripes]sync.Mutex

func (l *identityLocks) lock(userID int) func() {
	m := &l[uint(userID)%identityStripes]
	m.Lock()
	return m.Unlock
}

type announcer struct {
	broadcaster Broadcaster
	logger      *zap.Logger
}

func (a announcer) online(sessionID string, userID int, total int) {
	observability.SetOnlineUsers(total)
	a.logger.Debug("user online", zap.Int("user_id", userID), zap.String("session_id", sessionID))
	if a.broadcaster != nil {
		a.broadcaster.BroadcastExcept(sessionID, models.EventUserOnline, models.PresenceChange{UserID: userID})
	}
}

func (a announcer) offline(sessionID string, userID int, total int) {
	observability.SetOnlineUsers(total)
	a.logger.Debug("user offline", zap.Int("user_id", userID), zap.String("session_id", sessionID))
	if a.broadcaster != nil {
		a.broadcaster.BroadcastExcept(sessionID, models.EventUserOffline, models.PresenceChange{UserID: userID})
	}
}
