package models

import "time"

// Conversation binds a fixed set of participants to an ordered message history.
type Conversation struct {
	ID           int           `db:"id" json:"id"`
	IsExternal   bool          `db:"is_external" json:"is_external"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	Participants []Participant `db:"-" json:"participants"`
}

// ParticipantIDs returns the identities bound to the conversation.
func (c Conversation) ParticipantIDs() []int {
	ids := make([]int, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

// HasParticipant reports whether userID belongs to the conversation.
func (c Conversation) HasParticipant(userID int) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Participant is the conversation x identity join carrying the read watermark.
type Participant struct {
	ConversationID int        `db:"conversation_id" json:"conversation_id"`
	UserID         int        `db:"user_id" json:"user_id"`
	JoinedAt       time.Time  `db:"joined_at" json:"joined_at"`
	LastReadAt     *time.Time `db:"last_read_at" json:"last_read_at,omitempty"`
}

// UserInfo is the slice of an account the chat service needs.
type UserInfo struct {
	ID       int    `db:"id" json:"id"`
	FullName string `db:"full_name" json:"full_name"`
	Role     string `db:"role" json:"-"`
	IsActive bool   `db:"is_active" json:"-"`
}

// Roles allowed to open external conversations.
const (
	RoleSysAdmin  = "SYS_ADMIN"
	RoleCorpAdmin = "CORP_ADMIN"
)

// IsPrivileged reports whether the user may contact people outside their connections.
func (u UserInfo) IsPrivileged() bool {
	return u.Role == RoleSysAdmin || u.Role == RoleCorpAdmin
}

// LastMessagePreview is the compact message shown in conversation lists.
type LastMessagePreview struct {
	ID        int       `json:"id"`
	SenderID  int       `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// ConversationSummary is one entry of a user's conversation list.
type ConversationSummary struct {
	ID                int                 `json:"id"`
	IsExternal        bool                `json:"is_external"`
	CreatedAt         time.Time           `json:"created_at"`
	OtherUser         *UserInfo           `json:"other_user,omitempty"`
	LastMessage       *LastMessagePreview `json:"last_message,omitempty"`
	HasUnreadMessages bool                `json:"has_unread_messages"`
}
