package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cowork-chat/internal/logging"
)

// Envelope is one encoded frame addressed to sessions on any gateway node.
// Broadcast frames go to every session except ExceptSession; otherwise only
// the sessions of UserIDs receive it.
type Envelope struct {
	Origin        string          `json:"origin"`
	UserIDs       []int           `json:"user_ids,omitempty"`
	Broadcast     bool            `json:"broadcast,omitempty"`
	ExceptSession string          `json:"except_session,omitempty"`
	Frame         json.RawMessage `json:"frame"`
}

// Relay carries envelopes between gateway nodes.
type Relay interface {
	Publish(ctx context.Context, env Envelope) error
	// Subscribe blocks, handing every received envelope to handle, until ctx
	// is done.
	Subscribe(ctx context.Context, handle func(Envelope)) error
}

// RedisRelay relays envelopes over a Redis pub/sub channel.
type RedisRelay struct {
	rdb     redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisRelay(rdb redis.UniversalClient, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: channel, logger: logging.OrNop(logger)}
}

func (r *RedisRelay) Publish(ctx context.Context, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, handle func(Envelope)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no envelope published
	// right after startup is missed.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("drop malformed relay envelope", zap.Error(err))
				continue
			}
			handle(env)
		}
	}
}
