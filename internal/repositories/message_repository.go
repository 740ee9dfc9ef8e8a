package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"cowork-chat/internal/models"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageNotMutable is returned when a guarded edit or delete matched no row.
	ErrMessageNotMutable = errors.New("message cannot be modified")
)

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Create(ctx context.Context, msg models.Message) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListForConversation(ctx context.Context, conversationID int, skip int, limit int) ([]models.Message, error)
	UpdateContent(ctx context.Context, messageID int, senderID int, content string, editedAt time.Time, notBefore time.Time) (models.Message, error)
	SoftDelete(ctx context.Context, messageID int, senderID int, deletedAt time.Time, notBefore time.Time) (models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, attachment_url, attachment_filename, attachment_mimetype,
    created_at, updated_at, is_deleted, deleted_at, read_at`

// Create stores a message. created_at is taken from msg when set.
func (r *MessageRepo) Create(ctx context.Context, msg models.Message) (models.Message, error) {
	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	var out models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages
        (conversation_id, sender_id, content, attachment_url, attachment_filename, attachment_mimetype, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING `+messageColumns,
		msg.ConversationID, msg.SenderID, msg.Content, msg.AttachmentURL, msg.AttachmentFilename, msg.AttachmentMimeType, createdAt.UTC()).
		StructScan(&out)
	if err != nil {
		return models.Message{}, err
	}
	out.NormalizeTimes()
	return out, nil
}

// Get retrieves a single message regardless of its deleted flag.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, err
	}
	msg.NormalizeTimes()
	return msg, nil
}

// ListForConversation returns a page of the conversation, oldest first.
// Deleted messages are included; callers redact them.
func (r *MessageRepo) ListForConversation(ctx context.Context, conversationID int, skip int, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + `
        FROM chat_messages
        WHERE conversation_id=$1
        ORDER BY created_at ASC, id ASC
        OFFSET $2 LIMIT $3`
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, conversationID, skip, limit); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].NormalizeTimes()
	}
	return msgs, nil
}

// UpdateContent edits a message in place. The row must belong to senderID, be
// undeleted and have been created at or after notBefore.
func (r *MessageRepo) UpdateContent(ctx context.Context, messageID int, senderID int, content string, editedAt time.Time, notBefore time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE chat_messages SET content=$3, updated_at=$4
        WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE AND created_at >= $5
        RETURNING `+messageColumns, messageID, senderID, content, editedAt.UTC(), notBefore.UTC()).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotMutable
	}
	if err != nil {
		return models.Message{}, err
	}
	msg.NormalizeTimes()
	return msg, nil
}

// SoftDelete flags a message as deleted under the same guard as UpdateContent.
func (r *MessageRepo) SoftDelete(ctx context.Context, messageID int, senderID int, deletedAt time.Time, notBefore time.Time) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `UPDATE chat_messages SET is_deleted = TRUE, deleted_at=$3
        WHERE id=$1 AND sender_id=$2 AND is_deleted = FALSE AND created_at >= $4
        RETURNING `+messageColumns, messageID, senderID, deletedAt.UTC(), notBefore.UTC()).StructScan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotMutable
	}
	if err != nil {
		return models.Message{}, err
	}
	msg.NormalizeTimes()
	return msg, nil
}
