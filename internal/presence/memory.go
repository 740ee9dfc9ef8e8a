package presence

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"cowork-chat/internal/logging"
)

// MemoryTracker keeps presence in process memory. It is correct only when a
// single gateway instance serves every client.
type MemoryTracker struct {
	identities identityLocks

	mu       sync.Mutex
	sessions map[string]int
	counts   map[int]int
	announce announcer
}

// NewMemoryTracker creates an empty tracker announcing through b.
func NewMemoryTracker(b Broadcaster, logger *zap.Logger) *MemoryTracker {
	return &MemoryTracker{
		sessions: make(map[string]int),
		counts:   make(map[int]int),
		announce: announcer{broadcaster: b, logger: logging.OrNop(logger)},
	}
}

func (t *MemoryTracker) Register(_ context.Context, sessionID string, userID int) error {
	unlock := t.identities.lock(userID)
	defer unlock()

	t.mu.Lock()
	if _, exists := t.sessions[sessionID]; exists {
		t.mu.Unlock()
		return nil
	}
	t.sessions[sessionID] = userID
	t.counts[userID]++
	total := len(t.counts)
	t.mu.Unlock()

	t.announce.online(sessionID, userID, total)
	return nil
}

func (t *MemoryTracker) Unregister(_ context.Context, sessionID string) (int, error) {
	t.mu.Lock()
	userID, ok := t.sessions[sessionID]
	t.mu.Unlock()
	if !ok {
		return 0, nil
	}

	unlock := t.identities.lock(userID)
	defer unlock()

	t.mu.Lock()
	if owner, still := t.sessions[sessionID]; !still || owner != userID {
		t.mu.Unlock()
		return 0, nil
	}
	delete(t.sessions, sessionID)
	t.counts[userID]--
	last := t.counts[userID] <= 0
	if last {
		delete(t.counts, userID)
	}
	total := len(t.counts)
	t.mu.Unlock()

	if last {
		t.announce.offline(sessionID, userID, total)
	}
	return userID, nil
}

func (t *MemoryTracker) IsOnline(_ context.Context, userID int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] > 0, nil
}

func (t *MemoryTracker) OnlineSnapshot(_ context.Context) ([]int, error) {
	t.mu.Lock()
	ids := make([]int, 0, len(t.counts))
	for id := range t.counts {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Ints(ids)
	return ids, nil
}

// Refresh is a no-op: in-memory sessions live until Unregister.
func (t *MemoryTracker) Refresh(context.Context, string) error {
	return nil
}
