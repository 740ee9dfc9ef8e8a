package ws

import (
	"encoding/json"

	"github.com/google/uuid"

	"cowork-chat/internal/models"
)

func newSessionID() string {
	return uuid.NewString()
}

func encodeFrame(event string, data any) ([]byte, error) {
	return json.Marshal(models.Frame{Event: event, Data: data})
}

// inboundFrame keeps data raw until the event name picks a payload type.
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}
