package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"cowork-chat/internal/logging"
)

// Register: KEYS = session, user session zset, online zset.
// ARGV = user id, ttl ms, expiry score, now ms, session id.
// Returns -1 when the session is already registered, else the live session count.
var registerScript = redis.NewScript(`
if not redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2], 'NX') then
  return -1
end
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return redis.call('ZCARD', KEYS[2])
`)

// Unregister: KEYS = session, user session zset, online zset.
// ARGV = user id, now ms, session id.
// Returns -1 when the session was unknown, else the live sessions left.
// Sessions of a crashed node stop being refreshed and fall out by score.
var unregisterScript = redis.NewScript(`
if redis.call('DEL', KEYS[1]) == 0 then
  return -1
end
redis.call('ZREM', KEYS[2], ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[2], '-inf', ARGV[2])
local n = redis.call('ZCARD', KEYS[2])
if n == 0 then
  redis.call('DEL', KEYS[2])
  redis.call('ZREM', KEYS[3], ARGV[1])
end
return n
`)

// RedisTracker shares presence between gateway instances. Each user keeps a
// zset of live sessions scored by expiry, renewed by Refresh, so a crashed
// node's sessions age out instead of pinning users online.
type RedisTracker struct {
	identities identityLocks

	rdb      redis.UniversalClient
	prefix   string
	ttl      time.Duration
	now      func() time.Time
	announce announcer
}

// RedisOption customises a RedisTracker.
type RedisOption func(*RedisTracker)

// WithKeyPrefix namespaces every key the tracker writes.
func WithKeyPrefix(prefix string) RedisOption {
	return func(t *RedisTracker) { t.prefix = prefix }
}

// WithClock replaces time.Now for expiry scores.
func WithClock(now func() time.Time) RedisOption {
	return func(t *RedisTracker) { t.now = now }
}

// NewRedisTracker creates a tracker on rdb with the given liveness TTL.
func NewRedisTracker(rdb redis.UniversalClient, ttl time.Duration, b Broadcaster, logger *zap.Logger, opts ...RedisOption) *RedisTracker {
	t := &RedisTracker{
		rdb:      rdb,
		prefix:   "chat:presence",
		ttl:      ttl,
		now:      time.Now,
		announce: announcer{broadcaster: b, logger: logging.OrNop(logger)},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *RedisTracker) sessionKey(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", t.prefix, sessionID)
}

func (t *RedisTracker) userKey(userID int) string {
	return fmt.Sprintf("%s:user:%d:sessions", t.prefix, userID)
}

func (t *RedisTracker) onlineKey() string {
	return t.prefix + ":online"
}

func (t *RedisTracker) expiryScore() int64 {
	return t.now().Add(t.ttl).UnixMilli()
}

func (t *RedisTracker) nowMillis() int64 {
	return t.now().UnixMilli()
}

func (t *RedisTracker) Register(ctx context.Context, sessionID string, userID int) error {
	unlock := t.identities.lock(userID)
	defer unlock()

	res, err := registerScript.Run(ctx, t.rdb,
		[]string{t.sessionKey(sessionID), t.userKey(userID), t.onlineKey()},
		userID, t.ttl.Milliseconds(), t.expiryScore(), t.nowMillis(), sessionID).Int64()
	if err != nil {
		return fmt.Errorf("register presence: %w", err)
	}
	if res < 0 {
		return nil
	}
	t.announce.online(sessionID, userID, t.countOnline(ctx))
	return nil
}

func (t *RedisTracker) Unregister(ctx context.Context, sessionID string) (int, error) {
	raw, err := t.rdb.Get(ctx, t.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup session: %w", err)
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}

	unlock := t.identities.lock(userID)
	defer unlock()

	remaining, err := unregisterScript.Run(ctx, t.rdb,
		[]string{t.sessionKey(sessionID), t.userKey(userID), t.onlineKey()},
		userID, t.nowMillis(), sessionID).Int64()
	if err != nil {
		return userID, fmt.Errorf("unregister presence: %w", err)
	}
	if remaining < 0 {
		return 0, nil
	}
	if remaining == 0 {
		t.announce.offline(sessionID, userID, t.countOnline(ctx))
	}
	return userID, nil
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID int) (bool, error) {
	score, err := t.rdb.ZScore(ctx, t.onlineKey(), strconv.Itoa(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return int64(score) > t.now().UnixMilli(), nil
}

func (t *RedisTracker) OnlineSnapshot(ctx context.Context) ([]int, error) {
	members, err := t.rdb.ZRangeByScore(ctx, t.onlineKey(), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(t.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(members))
	for _, m := range members {
		id, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *RedisTracker) Refresh(ctx context.Context, sessionID string) error {
	raw, err := t.rdb.Get(ctx, t.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("corrupt session %s: %w", sessionID, err)
	}
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		score := float64(t.expiryScore())
		pipe.PExpire(ctx, t.sessionKey(sessionID), t.ttl)
		pipe.ZAdd(ctx, t.userKey(userID), redis.Z{Score: score, Member: sessionID})
		pipe.PExpire(ctx, t.userKey(userID), t.ttl)
		pipe.ZAdd(ctx, t.onlineKey(), redis.Z{Score: score, Member: userID})
		return nil
	})
	return err
}

// countOnline prunes expired members and returns the live count for metrics.
func (t *RedisTracker) countOnline(ctx context.Context) int {
	now := strconv.FormatInt(t.nowMillis(), 10)
	if err := t.rdb.ZRemRangeByScore(ctx, t.onlineKey(), "-inf", now).Err(); err != nil {
		t.announce.logger.Warn("prune online set", zap.Error(err))
	}
	n, err := t.rdb.ZCard(ctx, t.onlineKey()).Result()
	if err != nil {
		return 0
	}
	return int(n)
}
