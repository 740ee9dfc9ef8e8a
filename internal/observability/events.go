package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// Routing keys for domain events on the chat exchange.
const (
	RoutingMessageCreated = "chat.message.created"
	RoutingMessageUpdated = "chat.message.updated"
	RoutingMessageDeleted = "chat.message.deleted"
	RoutingReactionToggle = "chat.reaction.toggled"
	RoutingWSEvents       = "ws_events.chats"
)

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}

// TraceIDFromContext returns the active span's trace id, or "".
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
