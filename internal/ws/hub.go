package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"cowork-chat/internal/logging"
)

// Hub tracks live sessions on this node, grouped into one room per identity.
// With a Relay it also reaches sessions held by other gateway nodes.
type Hub struct {
	nodeID   string
	sessions map[string]*Client
	rooms    map[int]map[string]*Client
	relay    Relay
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewHub creates an empty hub. relay may be nil for a single node.
func NewHub(relay Relay, logger *zap.Logger) *Hub {
	return &Hub{
		nodeID:   newSessionID(),
		sessions: make(map[string]*Client),
		rooms:    make(map[int]map[string]*Client),
		relay:    relay,
		logger:   logging.OrNop(logger),
	}
}

// Run consumes envelopes from other nodes until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	if h.relay == nil {
		<-ctx.Done()
		return nil
	}
	return h.relay.Subscribe(ctx, func(env Envelope) {
		if env.Origin == h.nodeID {
			return
		}
		h.deliverLocal(env)
	})
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[c.info.SessionID] = c
	room, ok := h.rooms[c.info.UserID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[c.info.UserID] = room
	}
	room[c.info.SessionID] = c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, c.info.SessionID)
	if room, ok := h.rooms[c.info.UserID]; ok {
		delete(room, c.info.SessionID)
		if len(room) == 0 {
			delete(h.rooms, c.info.UserID)
		}
	}
}

// SessionCount returns the number of sessions connected to this node.
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// EmitToUsers delivers a frame to every session of the given identities.
func (h *Hub) EmitToUsers(userIDs []int, event string, data any) {
	if len(userIDs) == 0 {
		return
	}
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.dispatch(Envelope{Origin: h.nodeID, UserIDs: userIDs, Frame: frame})
}

// BroadcastExcept delivers a frame to every session but one.
func (h *Hub) BroadcastExcept(sessionID string, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.dispatch(Envelope{Origin: h.nodeID, Broadcast: true, ExceptSession: sessionID, Frame: frame})
}

// EmitToSession delivers a frame to one local session only.
func (h *Hub) EmitToSession(sessionID string, event string, data any) {
	frame, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("encode frame", zap.String("event", event), zap.Error(err))
		return
	}
	h.mu.RLock()
	c, ok := h.sessions[sessionID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(frame)
	}
}

func (h *Hub) dispatch(env Envelope) {
	h.deliverLocal(env)
	if h.relay == nil {
		return
	}
	if err := h.relay.Publish(context.Background(), env); err != nil {
		h.logger.Warn("relay publish failed", zap.Error(err))
	}
}

func (h *Hub) deliverLocal(env Envelope) {
	h.mu.RLock()
	var targets []*Client
	if env.Broadcast {
		targets = make([]*Client, 0, len(h.sessions))
		for id, c := range h.sessions {
			if id != env.ExceptSession {
				targets = append(targets, c)
			}
		}
	} else {
		seen := make(map[int]bool, len(env.UserIDs))
		for _, userID := range env.UserIDs {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			for _, c := range h.rooms[userID] {
				targets = append(targets, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.enqueue(env.Frame)
	}
}
