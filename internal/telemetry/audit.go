package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audited message mutations.
const (
	MutationEdited  = "edited"
	MutationDeleted = "deleted"
)

const (
	eventTypeAuditLog     = "audit_log"
	eventTypeMessageAudit = "message_audit"
)

// AuditEmitter records message mutations (edit, delete) on the event bus.
// Mutation entries are routed under <routingKey>.message.<mutation> so
// consumers can bind to a single kind of change.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	logger      *zap.Logger
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level   string        `json:"level"`
	Text    string        `json:"text"`
	Subject *AuditSubject `json:"subject,omitempty"`
}

// AuditSubject names the message a mutation entry is about.
type AuditSubject struct {
	ConversationID int    `json:"conversation_id"`
	MessageID      int    `json:"message_id"`
	Mutation       string `json:"mutation"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, logger *zap.Logger) *AuditEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		logger:      logger,
		now:         time.Now,
	}
}

// Emit records a free-form entry.
func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}
	e.logger.Debug("audit emit", zap.String("level", level), zap.String("request_id", requestID), zap.Stringp("user_id", userID), zap.String("text", text))
	e.publish(ctx, e.routingKey, e.envelope(eventTypeAuditLog, requestID, userID, AuditPayload{Level: level, Text: text}))
}

// EmitMessageMutation records that userID edited or deleted a message.
func (e *AuditEmitter) EmitMessageMutation(ctx context.Context, mutation string, conversationID, messageID int, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}
	e.logger.Debug("audit message mutation",
		zap.String("mutation", mutation),
		zap.Int("conversation_id", conversationID),
		zap.Int("message_id", messageID),
		zap.String("request_id", requestID),
		zap.Stringp("user_id", userID))
	payload := AuditPayload{
		Level: "INFO",
		Text:  fmt.Sprintf("message %d %s in conversation %d", messageID, mutation, conversationID),
		Subject: &AuditSubject{
			ConversationID: conversationID,
			MessageID:      messageID,
			Mutation:       mutation,
		},
	}
	e.publish(ctx, e.routingKey+".message."+mutation, e.envelope(eventTypeMessageAudit, requestID, userID, payload))
}

func (e *AuditEmitter) envelope(eventType, requestID string, userID *string, payload AuditPayload) AuditEnvelope {
	return AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload:       payload,
	}
}

func (e *AuditEmitter) publish(ctx context.Context, routingKey string, envelope AuditEnvelope) {
	if err := e.publisher.Publish(ctx, routingKey, envelope); err != nil {
		e.logger.Warn("audit publish failed", zap.String("routing_key", routingKey), zap.String("event_type", envelope.EventType), zap.Error(err))
	}
}
