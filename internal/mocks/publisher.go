package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"cowork-chat/internal/observability"
	"cowork-chat/internal/rabbitmq"
)

var (
	_ rabbitmq.Publisher      = (*PublisherMock)(nil)
	_ observability.Publisher = (*PublisherMock)(nil)
)

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) PublishJSON(ctx context.Context, routingKey string, event interface{}, headers map[string]string) error {
	args := m.Called(ctx, routingKey, event, headers)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
