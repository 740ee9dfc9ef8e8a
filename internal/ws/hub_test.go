package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cowork-chat/internal/models"
)

func newTestClient(sessionID string, userID int) *Client {
	info := ConnInfo{SessionID: sessionID, UserID: userID, ConnectedAt: time.Now()}
	return newClient(nil, info, rate.NewLimiter(rate.Inf, 1), zap.NewNop())
}

type receivedFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func nextFrame(t *testing.T, c *Client) receivedFrame {
	t.Helper()
	select {
	case raw := <-c.send:
		var f receivedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for session %s", c.info.SessionID)
		return receivedFrame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case raw := <-c.send:
		t.Fatalf("unexpected frame for session %s: %s", c.info.SessionID, raw)
	default:
	}
}

func TestHubAddAndRemoveClient(t *testing.T) {
	hub := NewHub(nil, nil)
	c := newTestClient("s1", 1)

	hub.add(c)
	assert.Equal(t, 1, hub.SessionCount())
	assert.Len(t, hub.rooms[1], 1)

	hub.remove(c)
	assert.Equal(t, 0, hub.SessionCount())
	assert.NotContains(t, hub.rooms, 1)
}

func TestEmitToUsersReachesEveryDevice(t *testing.T) {
	hub := NewHub(nil, nil)
	phone := newTestClient("phone", 1)
	laptop := newTestClient("laptop", 1)
	other := newTestClient("other", 2)
	bystander := newTestClient("bystander", 3)
	for _, c := range []*Client{phone, laptop, other, bystander} {
		hub.add(c)
	}

	hub.EmitToUsers([]int{1, 2, 1}, models.EventReceiveMessage, models.Message{ID: 5})

	for _, c := range []*Client{phone, laptop, other} {
		f := nextFrame(t, c)
		assert.Equal(t, models.EventReceiveMessage, f.Event)
		assertNoFrame(t, c)
	}
	assertNoFrame(t, bystander)
}

func TestBroadcastExceptSkipsOrigin(t *testing.T) {
	hub := NewHub(nil, nil)
	origin := newTestClient("origin", 1)
	sameUser := newTestClient("second-device", 1)
	other := newTestClient("other", 2)
	for _, c := range []*Client{origin, sameUser, other} {
		hub.add(c)
	}

	hub.BroadcastExcept("origin", models.EventUserOnline, models.PresenceChange{UserID: 1})

	assertNoFrame(t, origin)
	assert.Equal(t, models.EventUserOnline, nextFrame(t, sameUser).Event)
	assert.Equal(t, models.EventUserOnline, nextFrame(t, other).Event)
}

func TestEmitToSession(t *testing.T) {
	hub := NewHub(nil, nil)
	a := newTestClient("a", 1)
	b := newTestClient("b", 1)
	hub.add(a)
	hub.add(b)

	hub.EmitToSession("b", models.EventOnlineUsersList, models.OnlineUsers{UserIDs: []int{1}})
	hub.EmitToSession("missing", models.EventOnlineUsersList, models.OnlineUsers{})

	assertNoFrame(t, a)
	f := nextFrame(t, b)
	var users models.OnlineUsers
	require.NoError(t, json.Unmarshal(f.Data, &users))
	assert.Equal(t, []int{1}, users.UserIDs)
}

func TestSlowConsumerIsClosed(t *testing.T) {
	hub := NewHub(nil, nil)
	c := newTestClient("slow", 1)
	hub.add(c)

	for i := 0; i <= sendBufferSize; i++ {
		hub.EmitToUsers([]int{1}, models.EventUserTyping, models.TypingIndicator{UserID: 2})
	}

	select {
	case <-c.done:
	default:
		t.Fatal("expected slow session to be closed")
	}
}

type memoryRelay struct {
	mu         sync.Mutex
	handlers   []func(Envelope)
	subscribed chan struct{}
}

func newMemoryRelay() *memoryRelay {
	return &memoryRelay{subscribed: make(chan struct{}, 8)}
}

func (r *memoryRelay) Publish(_ context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}
	var decoded Envelope
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	r.mu.Lock()
	handlers := append(([]func(Envelope))(nil), r.handlers...)
	r.mu.Unlock()
	for _, h := range handlers {
		h(decoded)
	}
	return nil
}

func (r *memoryRelay) Subscribe(ctx context.Context, handle func(Envelope)) error {
	r.mu.Lock()
	r.handlers = append(r.handlers, handle)
	r.mu.Unlock()
	r.subscribed <- struct{}{}
	<-ctx.Done()
	return nil
}

func TestRelayDeliversAcrossNodes(t *testing.T) {
	relay := newMemoryRelay()
	nodeA := NewHub(relay, nil)
	nodeB := NewHub(relay, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = nodeA.Run(ctx) }()
	go func() { _ = nodeB.Run(ctx) }()
	for i := 0; i < 2; i++ {
		select {
		case <-relay.subscribed:
		case <-time.After(time.Second):
			t.Fatal("relay subscription did not start")
		}
	}

	onA := newTestClient("a", 2)
	onB := newTestClient("b", 2)
	elsewhere := newTestClient("c", 3)
	nodeA.add(onA)
	nodeB.add(onB)
	nodeB.add(elsewhere)

	nodeA.EmitToUsers([]int{2}, models.EventReceiveMessage, models.Message{ID: 1})

	assert.Equal(t, models.EventReceiveMessage, nextFrame(t, onA).Event)
	assert.Equal(t, models.EventReceiveMessage, nextFrame(t, onB).Event)
	assertNoFrame(t, onA)
	assertNoFrame(t, elsewhere)

	nodeB.BroadcastExcept("b", models.EventUserOffline, models.PresenceChange{UserID: 2})
	assert.Equal(t, models.EventUserOffline, nextFrame(t, onA).Event)
	assert.Equal(t, models.EventUserOffline, nextFrame(t, elsewhere).Event)
	assertNoFrame(t, onB)
}
