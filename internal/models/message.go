package models

import "time"

// Attachment describes an uploaded file referenced by a message.
type Attachment struct {
	URL      string `json:"url" validate:"required,url"`
	Filename string `json:"filename"`
	MimeType string `json:"mimetype"`
}

// Message is a chat message. Rows are never hard-deleted.
type Message struct {
	ID                 int        `db:"id" json:"id"`
	ConversationID     int        `db:"conversation_id" json:"conversation_id"`
	SenderID           int        `db:"sender_id" json:"sender_id"`
	Content            string     `db:"content" json:"content"`
	AttachmentURL      *string    `db:"attachment_url" json:"attachment_url"`
	AttachmentFilename *string    `db:"attachment_filename" json:"attachment_filename"`
	AttachmentMimeType *string    `db:"attachment_mimetype" json:"attachment_mimetype"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          *time.Time `db:"updated_at" json:"updated_at"`
	IsDeleted          bool       `db:"is_deleted" json:"is_deleted"`
	DeletedAt          *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	ReadAt             *time.Time `db:"read_at" json:"read_at"`
	Reactions          []Reaction `db:"-" json:"reactions"`
}

// HasAttachment reports whether an attachment URL is set.
func (m Message) HasAttachment() bool {
	return m.AttachmentURL != nil && *m.AttachmentURL != ""
}

// Presented returns the outbound view of the message: deleted messages lose
// their content and attachment, storage keeps both.
func (m Message) Presented() Message {
	if m.Reactions == nil {
		m.Reactions = []Reaction{}
	}
	if !m.IsDeleted {
		return m
	}
	m.Content = ""
	m.AttachmentURL = nil
	m.AttachmentFilename = nil
	m.AttachmentMimeType = nil
	return m
}

// NormalizeTimes converts every timestamp to UTC.
func (m *Message) NormalizeTimes() {
	m.CreatedAt = m.CreatedAt.UTC()
	m.UpdatedAt = utcPtr(m.UpdatedAt)
	m.DeletedAt = utcPtr(m.DeletedAt)
	m.ReadAt = utcPtr(m.ReadAt)
}

// Reaction is one user's emoji on a message; unique per (message, user, emoji).
type Reaction struct {
	ID        int       `db:"id" json:"id"`
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification is a durable, badge-counted notice for an offline recipient.
type Notification struct {
	ID              int       `db:"id" json:"id"`
	UserID          int       `db:"user_id" json:"user_id"`
	Type            string    `db:"type" json:"type"`
	Message         string    `db:"message" json:"message"`
	IsRead          bool      `db:"is_read" json:"is_read"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	RelatedEntityID *int      `db:"related_entity_id" json:"related_entity_id,omitempty"`
	Reference       *string   `db:"reference" json:"reference,omitempty"`
	Link            *string   `db:"link" json:"link,omitempty"`
}

// NotificationTypeNewMessage tags notifications produced by message fanout.
const NotificationTypeNewMessage = "new_message"

// UTC normalises t; zero stays zero.
func UTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
