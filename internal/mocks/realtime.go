package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"cowork-chat/internal/presence"
)

var _ presence.Tracker = (*TrackerMock)(nil)

type TrackerMock struct {
	mock.Mock
}

func (m *TrackerMock) Register(ctx context.Context, sessionID string, userID int) error {
	args := m.Called(ctx, sessionID, userID)
	return args.Error(0)
}

func (m *TrackerMock) Unregister(ctx context.Context, sessionID string) (int, error) {
	args := m.Called(ctx, sessionID)
	return args.Int(0), args.Error(1)
}

func (m *TrackerMock) IsOnline(ctx context.Context, userID int) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *TrackerMock) OnlineSnapshot(ctx context.Context) ([]int, error) {
	args := m.Called(ctx)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *TrackerMock) Refresh(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

// Emission is one recorded EmitToUsers call.
type Emission struct {
	UserIDs []int
	Event   string
	Data    any
}

// EmitterRecorder captures frames instead of delivering them.
type EmitterRecorder struct {
	mu    sync.Mutex
	calls []Emission
}

func (r *EmitterRecorder) EmitToUsers(userIDs []int, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Emission{UserIDs: append([]int(nil), userIDs...), Event: event, Data: data})
}

// All returns every recorded emission in order.
func (r *EmitterRecorder) All() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emission(nil), r.calls...)
}

// ByEvent returns recorded emissions with the given event name.
func (r *EmitterRecorder) ByEvent(event string) []Emission {
	var out []Emission
	for _, c := range r.All() {
		if c.Event == event {
			out = append(out, c)
		}
	}
	return out
}
