package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"cowork-chat/internal/apperrors"
	"cowork-chat/internal/logging"
	"cowork-chat/internal/middleware"
	"cowork-chat/internal/models"
	"cowork-chat/internal/observability"
	"cowork-chat/internal/presence"
	"cowork-chat/internal/repositories"
	"cowork-chat/internal/services"
)

const cleanupTimeout = 5 * time.Second

type MessageCreator interface {
	Create(ctx context.Context, req services.SendRequest) (models.Message, error)
}

type ReadMarker interface {
	MarkConversationRead(ctx context.Context, conversationID, userID int) (bool, error)
	MarkReadWithPartner(ctx context.Context, userID, partnerID int) (int, bool, error)
}

type ConversationFinder interface {
	Get(ctx context.Context, conversationID, userID int) (models.Conversation, error)
}

type MessagingPolicy interface {
	CanMessage(ctx context.Context, senderID, recipientID int) (services.Grant, error)
}

// Domain is the set of managers inbound socket events are dispatched to.
type Domain struct {
	Messages      MessageCreator
	Receipts      ReadMarker
	Conversations ConversationFinder
	Permissions   MessagingPolicy
}

// GatewayConfig bounds how fast one session may send events.
type GatewayConfig struct {
	EventsPerSecond float64
	EventBurst      int
}

// Gateway authenticates socket handshakes, registers presence and dispatches
// inbound events to the chat managers.
type Gateway struct {
	hub      *Hub
	tokens   middleware.TokenValidator
	users    repositories.UserRepository
	tracker  presence.Tracker
	domain   Domain
	cfg      GatewayConfig
	validate *validator.Validate
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewGateway(hub *Hub, tokens middleware.TokenValidator, users repositories.UserRepository, tracker presence.Tracker, domain Domain, cfg GatewayConfig, logger *zap.Logger) *Gateway {
	if cfg.EventsPerSecond <= 0 {
		cfg.EventsPerSecond = 10
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 20
	}
	return &Gateway{
		hub:      hub,
		tokens:   tokens,
		users:    users,
		tracker:  tracker,
		domain:   domain,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logging.OrNop(logger),
	}
}

// Handle upgrades an authenticated request and serves the session until it
// disconnects.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := observability.Tracer().Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	token, ok := middleware.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := g.tokens.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	user, err := g.users.GetUser(ctx, userID)
	if errors.Is(err, repositories.ErrUserNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if err != nil {
		g.logger.Error("load user for handshake", zap.Int("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !user.IsActive {
		c.JSON(http.StatusForbidden, gin.H{"error": "user is inactive"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	info := ConnInfo{
		SessionID:   newSessionID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(c.Request.Context()),
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	if info.RequestID == "" {
		info.RequestID = observability.RequestIDFromRequest(c.Request)
	}

	// The request context ends with this handler; the session outlives it.
	sessionCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	sessionCtx = observability.WithRequestID(sessionCtx, info.RequestID)
	sessionCtx, cancel := context.WithCancel(sessionCtx)

	limiter := rate.NewLimiter(rate.Limit(g.cfg.EventsPerSecond), g.cfg.EventBurst)
	client := newClient(conn, info, limiter, g.logger)
	g.hub.add(client)
	go client.writePump()

	observability.IncWSActive(wsKind)
	publishLifecycle(sessionCtx, "ws_connect", info, "")
	g.logger.Info("socket connected", zap.Int("user_id", userID), zap.String("session_id", info.SessionID))

	if err := g.tracker.Register(sessionCtx, info.SessionID, userID); err != nil {
		g.logger.Error("register presence", zap.Int("user_id", userID), zap.String("session_id", info.SessionID), zap.Error(err))
		g.disconnect(sessionCtx, cancel, client, "presence register failed")
		return
	}
	if online, err := g.tracker.OnlineSnapshot(sessionCtx); err != nil {
		g.logger.Warn("online snapshot", zap.Error(err))
	} else {
		g.hub.EmitToSession(info.SessionID, models.EventOnlineUsersList, models.OnlineUsers{UserIDs: online})
	}

	go g.serve(sessionCtx, cancel, client)
}

func (g *Gateway) serve(ctx context.Context, cancel context.CancelFunc, c *Client) {
	reason := "closed"
	defer func() { g.disconnect(ctx, cancel, c, reason) }()

	err := c.readPump(
		func() {
			if err := g.tracker.Refresh(ctx, c.info.SessionID); err != nil {
				c.logger.Warn("refresh presence", zap.Error(err))
			}
		},
		func(raw []byte) { g.dispatch(ctx, c, raw) },
	)
	if err != nil {
		reason = err.Error()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			publishLifecycle(ctx, "ws_error", c.info, reason)
		}
	}
}

// disconnect must unregister presence even when ctx is already cancelled.
func (g *Gateway) disconnect(ctx context.Context, cancel context.CancelFunc, c *Client, reason string) {
	c.close()
	g.hub.remove(c)
	cancel()

	cleanupCtx, done := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer done()
	if _, err := g.tracker.Unregister(cleanupCtx, c.info.SessionID); err != nil {
		c.logger.Error("unregister presence", zap.Error(err))
	}
	observability.DecWSActive(wsKind)
	publishLifecycle(cleanupCtx, "ws_disconnect", c.info, reason)
	c.logger.Info("socket disconnected", zap.String("reason", reason))
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, raw []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Event == "" {
		c.logger.Warn("drop malformed socket frame", zap.Error(err))
		return
	}
	if !c.limiter.Allow() {
		observability.IncWSEvent(wsKind, "rate_limited")
		c.logger.Warn("drop rate limited socket event", zap.String("event", frame.Event))
		return
	}

	switch frame.Event {
	case models.EventSendMessage:
		g.handleSendMessage(ctx, c, frame)
	case models.EventMarkAsRead:
		g.handleMarkAsRead(ctx, c, frame)
	case models.EventUserTyping:
		g.handleTyping(ctx, c, frame)
	default:
		c.logger.Warn("drop unknown socket event", zap.String("event", frame.Event))
		return
	}
	observability.IncWSEvent(wsKind, frame.Event)
}

// decode fills dst from the frame data and validates it; invalid payloads
// are logged and dropped.
func (g *Gateway) decode(c *Client, frame inboundFrame, dst any) bool {
	if len(frame.Data) > 0 && string(frame.Data) != "null" {
		if err := json.Unmarshal(frame.Data, dst); err != nil {
			c.logger.Warn("drop undecodable socket payload", zap.String("event", frame.Event), zap.Error(err))
			return false
		}
	}
	if err := g.validate.Struct(dst); err != nil {
		c.logger.Warn("drop invalid socket payload", zap.String("event", frame.Event), zap.Error(err))
		return false
	}
	return true
}

// reject reports a failed operation to the acting session only.
func (g *Gateway) reject(c *Client, event string, err error) {
	if apperrors.KindOf(err) == apperrors.KindInternal {
		c.logger.Error("socket event failed", zap.String("event", event), zap.Error(err))
	} else {
		c.logger.Info("socket event rejected", zap.String("event", event), zap.Error(err))
	}
	g.hub.EmitToSession(c.info.SessionID, models.EventError, models.ErrorNotice{Event: event, Message: apperrors.MessageOf(err)})
}

func (g *Gateway) handleSendMessage(ctx context.Context, c *Client, frame inboundFrame) {
	var p models.SendMessagePayload
	if !g.decode(c, frame, &p) {
		return
	}
	req := services.SendRequest{SenderID: c.info.UserID, Content: p.Content, Attachment: p.Attachment}
	if p.ConversationID != nil {
		req.ConversationID = *p.ConversationID
	}
	if p.RecipientID != nil {
		req.RecipientID = *p.RecipientID
	}
	if _, err := g.domain.Messages.Create(ctx, req); err != nil {
		g.reject(c, frame.Event, err)
	}
}

func (g *Gateway) handleMarkAsRead(ctx context.Context, c *Client, frame inboundFrame) {
	var p models.MarkAsReadPayload
	if !g.decode(c, frame, &p) {
		return
	}
	var (
		ok  bool
		err error
	)
	if p.ConversationID != nil {
		ok, err = g.domain.Receipts.MarkConversationRead(ctx, *p.ConversationID, c.info.UserID)
	} else {
		_, ok, err = g.domain.Receipts.MarkReadWithPartner(ctx, c.info.UserID, *p.SenderID)
	}
	if err != nil {
		g.reject(c, frame.Event, err)
		return
	}
	if !ok {
		c.logger.Debug("mark as read matched no conversation")
	}
}

func (g *Gateway) handleTyping(ctx context.Context, c *Client, frame inboundFrame) {
	var p models.TypingPayload
	if !g.decode(c, frame, &p) {
		return
	}
	indicator := models.TypingIndicator{UserID: c.info.UserID}
	var targets []int
	switch {
	case p.ConversationID != nil:
		conv, err := g.domain.Conversations.Get(ctx, *p.ConversationID, c.info.UserID)
		if err != nil {
			c.logger.Debug("drop typing for unknown conversation", zap.Error(err))
			return
		}
		indicator.ConversationID = conv.ID
		for _, id := range conv.ParticipantIDs() {
			if id != c.info.UserID {
				targets = append(targets, id)
			}
		}
	case p.RecipientID != nil:
		if _, err := g.domain.Permissions.CanMessage(ctx, c.info.UserID, *p.RecipientID); err != nil {
			c.logger.Debug("drop typing for unreachable recipient", zap.Error(err))
			return
		}
		targets = []int{*p.RecipientID}
	default:
		return
	}
	g.hub.EmitToUsers(targets, models.EventUserTyping, indicator)
}
