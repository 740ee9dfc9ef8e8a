package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/repositories"
)

// Grant names the relationship that lets one identity message another.
type Grant int

const (
	GrantNone Grant = iota
	GrantConnection
	GrantExternalConversation
	GrantPrivileged
)

func (g Grant) String() string {
	switch g {
	case GrantConnection:
		return "connection"
	case GrantExternalConversation:
		return "external_conversation"
	case GrantPrivileged:
		return "privileged"
	default:
		return "none"
	}
}

// External reports whether the grant bypasses ordinary membership rules.
func (g Grant) External() bool {
	return g == GrantExternalConversation || g == GrantPrivileged
}

// Symmetric reports whether the grant holds in both directions. A privileged
// grant comes from the sender's role and holds only for that sender.
func (g Grant) Symmetric() bool {
	return g == GrantConnection || g == GrantExternalConversation
}

var errNotPermittedToMessage = apperrors.NotPermitted("you cannot message this user")

// pairKey identifies a cached grant. sender is 0 for symmetric grants, whose
// key is the unordered pair.
type pairKey struct{ lo, hi, sender int }

func keyFor(a, b int) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{lo: a, hi: b}
}

func directedKeyFor(senderID, recipientID int) pairKey {
	k := keyFor(senderID, recipientID)
	k.sender = senderID
	return k
}

func cacheKey(grant Grant, senderID, recipientID int) pairKey {
	if grant.Symmetric() {
		return keyFor(senderID, recipientID)
	}
	return directedKeyFor(senderID, recipientID)
}

type cachedGrant struct {
	grant   Grant
	expires time.Time
}

// Permissions evaluates the can-message capability once per pair and caches
// positive answers for a TTL.
type Permissions struct {
	connections   repositories.ConnectionRepository
	conversations repositories.ConversationRepository
	users         repositories.UserRepository
	ttl           time.Duration
	logger        *zap.Logger
	now           func() time.Time

	mu    sync.Mutex
	cache map[pairKey]cachedGrant
}

func NewPermissions(connections repositories.ConnectionRepository, conversations repositories.ConversationRepository, users repositories.UserRepository, ttl time.Duration, logger *zap.Logger) *Permissions {
	return &Permissions{
		connections:   connections,
		conversations: conversations,
		users:         users,
		ttl:           ttl,
		logger:        logging.OrNop(logger),
		now:           time.Now,
		cache:         make(map[pairKey]cachedGrant),
	}
}

// CanMessage returns the first grant that applies, checking an accepted
// connection, then an existing external conversation, then the sender's role.
func (p *Permissions) CanMessage(ctx context.Context, senderID, recipientID int) (Grant, error) {
	if senderID == recipientID {
		return GrantNone, apperrors.InvalidRequest("cannot message yourself")
	}
	if g, ok := p.cached(keyFor(senderID, recipientID)); ok {
		return g, nil
	}
	if g, ok := p.cached(directedKeyFor(senderID, recipientID)); ok {
		return g, nil
	}

	grant, err := p.evaluate(ctx, senderID, recipientID)
	if err != nil {
		return GrantNone, err
	}
	if grant == GrantNone {
		return GrantNone, errNotPermittedToMessage
	}

	p.mu.Lock()
	p.cache[cacheKey(grant, senderID, recipientID)] = cachedGrant{grant: grant, expires: p.now().Add(p.ttl)}
	p.mu.Unlock()
	return grant, nil
}

func (p *Permissions) cached(key pairKey) (Grant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[key]
	if !ok {
		return GrantNone, false
	}
	if !p.now().Before(entry.expires) {
		delete(p.cache, key)
		return GrantNone, false
	}
	return entry.grant, true
}

func (p *Permissions) evaluate(ctx context.Context, senderID, recipientID int) (Grant, error) {
	connected, err := p.connections.AreConnected(ctx, senderID, recipientID)
	if err != nil {
		return GrantNone, apperrors.Internal("check connection", err)
	}
	if connected {
		promoted, err := p.conversations.PromoteExternal(ctx, senderID, recipientID)
		if err != nil {
			p.logger.Warn("promote external conversation", zap.Int("sender_id", senderID), zap.Int("recipient_id", recipientID), zap.Error(err))
		} else if promoted {
			p.logger.Info("external conversation promoted", zap.Int("sender_id", senderID), zap.Int("recipient_id", recipientID))
		}
		return GrantConnection, nil
	}

	external, err := p.conversations.HasExternalBetween(ctx, senderID, recipientID)
	if err != nil {
		return GrantNone, apperrors.Internal("check external conversation", err)
	}
	if external {
		return GrantExternalConversation, nil
	}

	sender, err := p.users.GetUser(ctx, senderID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		return GrantNone, nil
	}
	if err != nil {
		return GrantNone, apperrors.Internal("load sender", err)
	}
	if sender.IsPrivileged() {
		return GrantPrivileged, nil
	}
	return GrantNone, nil
}
