package models

import "time"

// Socket event names, in and out.
const (
	EventSendMessage     = "send_message"
	EventMarkAsRead      = "mark_as_read"
	EventUserTyping      = "user_typing"
	EventReceiveMessage  = "receive_message"
	EventNewMessageNote  = "new_message_notification"
	EventMessagesRead    = "messages_read"
	EventUserOnline      = "user_online"
	EventUserOffline     = "user_offline"
	EventOnlineUsersList = "online_users_list"
	EventMessageUpdated  = "message_updated"
	EventMessageDeleted  = "message_deleted"
	EventReactionUpdated = "reaction_updated"
	EventError           = "error"
)

// Frame is the envelope of every socket message in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// SendMessagePayload is the inbound send_message body.
type SendMessagePayload struct {
	RecipientID    *int        `json:"recipient_id" validate:"required_without=ConversationID,omitempty,gt=0"`
	ConversationID *int        `json:"conversation_id" validate:"required_without=RecipientID,omitempty,gt=0"`
	Content        string      `json:"content" validate:"max=10000"`
	Attachment     *Attachment `json:"attachment" validate:"omitempty"`
}

// MarkAsReadPayload is the inbound mark_as_read body.
type MarkAsReadPayload struct {
	ConversationID *int `json:"conversation_id" validate:"required_without=SenderID,omitempty,gt=0"`
	SenderID       *int `json:"sender_id" validate:"required_without=ConversationID,omitempty,gt=0"`
}

// TypingPayload is the inbound user_typing body; both fields are optional.
type TypingPayload struct {
	ConversationID *int `json:"conversation_id" validate:"omitempty,gt=0"`
	RecipientID    *int `json:"recipient_id" validate:"omitempty,gt=0"`
}

// NewMessageNotification is delivered to recipients only, for badges.
type NewMessageNotification struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	SenderID       int       `json:"sender_id"`
	SenderName     string    `json:"sender_name"`
	Preview        string    `json:"message_preview"`
	CreatedAt      time.Time `json:"created_at"`
}

// MessagesRead tells the other participants a watermark advanced.
type MessagesRead struct {
	ReaderID       int       `json:"reader_id"`
	ConversationID int       `json:"conversation_id"`
	ReadAt         time.Time `json:"read_at"`
}

// ReactionUpdated is broadcast after every add/remove.
type ReactionUpdated struct {
	MessageID      int       `json:"message_id"`
	ConversationID int       `json:"conversation_id"`
	Reaction       *Reaction `json:"reaction"`
	UserID         int       `json:"user_id"`
	Emoji          string    `json:"emoji"`
	Action         string    `json:"action"`
}

// Reaction actions.
const (
	ReactionAdded   = "added"
	ReactionRemoved = "removed"
)

// PresenceChange is the body of user_online / user_offline.
type PresenceChange struct {
	UserID int `json:"user_id"`
}

// OnlineUsers seeds a freshly connected session's presence view.
type OnlineUsers struct {
	UserIDs []int `json:"user_ids"`
}

// TypingIndicator is relayed to the other participants.
type TypingIndicator struct {
	UserID         int `json:"user_id"`
	ConversationID int `json:"conversation_id,omitempty"`
}

// ErrorNotice tells a session that one of its events was rejected.
type ErrorNotice struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}
