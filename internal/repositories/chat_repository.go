package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"cowork-chat/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation and participant persistence.
type ConversationRepository interface {
	ResolveOrCreate(ctx context.Context, userA int, userB int) (models.Conversation, error)
	ResolveOrCreateExternal(ctx context.Context, initiatorID int, recipientID int) (models.Conversation, error)
	GetForParticipant(ctx context.Context, conversationID int, userID int) (models.Conversation, error)
	GetByID(ctx context.Context, conversationID int) (models.Conversation, error)
	FindBetween(ctx context.Context, userA int, userB int) (models.Conversation, error)
	ListForUser(ctx context.Context, userID int) ([]ConversationListRow, error)
	HasExternalBetween(ctx context.Context, userA int, userB int) (bool, error)
	PromoteExternal(ctx context.Context, userA int, userB int) (bool, error)
	MarkRead(ctx context.Context, conversationID int, userID int, at time.Time) (bool, error)
}

// ConversationListRow is one joined row of a user's conversation list.
type ConversationListRow struct {
	ConversationID       int            `db:"conversation_id"`
	IsExternal           bool           `db:"is_external"`
	CreatedAt            time.Time      `db:"created_at"`
	LastReadAt           *time.Time     `db:"last_read_at"`
	OtherUserID          sql.NullInt64  `db:"other_user_id"`
	OtherUserName        sql.NullString `db:"other_user_name"`
	LastMessageID        sql.NullInt64  `db:"last_message_id"`
	LastMessageSenderID  sql.NullInt64  `db:"last_message_sender_id"`
	LastMessageContent   sql.NullString `db:"last_message_content"`
	LastMessageDeleted   sql.NullBool   `db:"last_message_deleted"`
	LastMessageCreatedAt sql.NullTime   `db:"last_message_created_at"`
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

// pairMatch selects conversations whose participant set is exactly {$1, $2}.
const pairMatch = `
    SELECT c.id, c.is_external, c.created_at FROM conversations c
    JOIN conversation_participants p ON p.conversation_id = c.id
    WHERE c.is_external = $3
    GROUP BY c.id, c.is_external, c.created_at
    HAVING COUNT(*) = 2 AND COUNT(DISTINCT p.user_id) = 2 AND BOOL_AND(p.user_id IN ($1, $2))
    ORDER BY c.id
    LIMIT 1`

// ResolveOrCreate returns the ordinary conversation between two users, creating
// it together with both participant rows when none exists.
func (r *ConversationRepo) ResolveOrCreate(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	return r.resolveOrCreate(ctx, userA, userB, func(tx *sqlx.Tx) (models.Conversation, error) {
		var conv models.Conversation
		err := tx.GetContext(ctx, &conv, pairMatch, userA, userB, false)
		return conv, err
	}, false)
}

// bindingBoth selects any conversation holding both $1 and $2, ordinary first.
const bindingBoth = `SELECT c.id, c.is_external, c.created_at FROM conversations c
    WHERE EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
    AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $2)
    ORDER BY c.is_external ASC, c.id ASC
    LIMIT 1`

// ResolveOrCreateExternal returns any conversation already binding both users
// (ordinary first), or creates a fresh external one.
func (r *ConversationRepo) ResolveOrCreateExternal(ctx context.Context, initiatorID int, recipientID int) (models.Conversation, error) {
	return r.resolveOrCreate(ctx, initiatorID, recipientID, func(tx *sqlx.Tx) (models.Conversation, error) {
		var conv models.Conversation
		err := tx.GetContext(ctx, &conv, bindingBoth, initiatorID, recipientID)
		return conv, err
	}, true)
}

// FindBetween looks up the conversation binding both users without creating one.
func (r *ConversationRepo) FindBetween(ctx context.Context, userA int, userB int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, bindingBoth, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = models.UTC(conv.CreatedAt)
	if conv.Participants, err = loadParticipants(ctx, r.db, conv.ID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

func (r *ConversationRepo) resolveOrCreate(ctx context.Context, userA, userB int, find func(*sqlx.Tx) (models.Conversation, error), external bool) (models.Conversation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	// Serialise creators of the same pair so two racing first messages cannot
	// create two conversations.
	pair := []int{userA, userB}
	sort.Ints(pair)
	if _, err = tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, pair[0], pair[1]); err != nil {
		return models.Conversation{}, err
	}

	conv, err := find(tx)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		if err = tx.QueryRowxContext(ctx, `INSERT INTO conversations (is_external) VALUES ($1) RETURNING id, is_external, created_at`, external).
			Scan(&conv.ID, &conv.IsExternal, &conv.CreatedAt); err != nil {
			return models.Conversation{}, err
		}
		if _, err = tx.ExecContext(ctx, `INSERT INTO conversation_participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`, conv.ID, userA, userB); err != nil {
			return models.Conversation{}, err
		}
	default:
		return models.Conversation{}, err
	}

	if conv.Participants, err = loadParticipants(ctx, tx, conv.ID); err != nil {
		return models.Conversation{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = models.UTC(conv.CreatedAt)
	return conv, nil
}

// GetForParticipant returns the conversation only when userID participates in it.
func (r *ConversationRepo) GetForParticipant(ctx context.Context, conversationID int, userID int) (models.Conversation, error) {
	conv, err := r.GetByID(ctx, conversationID)
	if err != nil {
		return models.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, nil
}

// GetByID fetches a conversation with its participants.
func (r *ConversationRepo) GetByID(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv, `SELECT id, is_external, created_at FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return models.Conversation{}, err
	}
	conv.CreatedAt = models.UTC(conv.CreatedAt)
	if conv.Participants, err = loadParticipants(ctx, r.db, conv.ID); err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListForUser returns every conversation the user participates in with the
// counterpart and the latest message joined in.
func (r *ConversationRepo) ListForUser(ctx context.Context, userID int) ([]ConversationListRow, error) {
	query := `SELECT c.id AS conversation_id, c.is_external, c.created_at, me.last_read_at,
            other.user_id AS other_user_id, u.full_name AS other_user_name,
            lm.id AS last_message_id, lm.sender_id AS last_message_sender_id,
            lm.content AS last_message_content, lm.is_deleted AS last_message_deleted,
            lm.created_at AS last_message_created_at
        FROM conversations c
        JOIN conversation_participants me ON me.conversation_id = c.id AND me.user_id = $1
        LEFT JOIN LATERAL (
            SELECT p.user_id FROM conversation_participants p
            WHERE p.conversation_id = c.id AND p.user_id <> $1
            ORDER BY p.joined_at, p.user_id
            LIMIT 1
        ) other ON TRUE
        LEFT JOIN users u ON u.id = other.user_id
        LEFT JOIN LATERAL (
            SELECT m.id, m.sender_id, m.content, m.is_deleted, m.created_at FROM chat_messages m
            WHERE m.conversation_id = c.id
            ORDER BY m.created_at DESC, m.id DESC
            LIMIT 1
        ) lm ON TRUE
        ORDER BY lm.created_at DESC NULLS LAST, c.created_at DESC`

	var rows []ConversationListRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].CreatedAt = models.UTC(rows[i].CreatedAt)
		if rows[i].LastReadAt != nil {
			t := rows[i].LastReadAt.UTC()
			rows[i].LastReadAt = &t
		}
		if rows[i].LastMessageCreatedAt.Valid {
			rows[i].LastMessageCreatedAt.Time = rows[i].LastMessageCreatedAt.Time.UTC()
		}
	}
	return rows, nil
}

// HasExternalBetween reports whether an external conversation binds both users.
func (r *ConversationRepo) HasExternalBetween(ctx context.Context, userA int, userB int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(
        SELECT 1 FROM conversations c
        WHERE c.is_external
        AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $1)
        AND EXISTS (SELECT 1 FROM conversation_participants p WHERE p.conversation_id = c.id AND p.user_id = $2))`, userA, userB)
	return exists, err
}

// PromoteExternal turns the pair's two-party external conversation into the
// ordinary one, unless an ordinary conversation already exists.
func (r *ConversationRepo) PromoteExternal(ctx context.Context, userA int, userB int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE conversations SET is_external = FALSE
        WHERE id = (
            SELECT c.id FROM conversations c
            JOIN conversation_participants p ON p.conversation_id = c.id
            WHERE c.is_external
            GROUP BY c.id
            HAVING COUNT(*) = 2 AND COUNT(DISTINCT p.user_id) = 2 AND BOOL_AND(p.user_id IN ($1, $2))
            ORDER BY c.id
            LIMIT 1
        )
        AND NOT EXISTS (
            SELECT 1 FROM conversations o
            JOIN conversation_participants op ON op.conversation_id = o.id
            WHERE NOT o.is_external
            GROUP BY o.id
            HAVING COUNT(*) = 2 AND COUNT(DISTINCT op.user_id) = 2 AND BOOL_AND(op.user_id IN ($1, $2))
        )`, userA, userB)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// MarkRead advances the participant's watermark; false when not a participant.
func (r *ConversationRepo) MarkRead(ctx context.Context, conversationID int, userID int, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE conversation_participants SET last_read_at=$3 WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID, at.UTC())
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func loadParticipants(ctx context.Context, q sqlx.QueryerContext, conversationID int) ([]models.Participant, error) {
	var participants []models.Participant
	if err := sqlx.SelectContext(ctx, q, &participants, `SELECT conversation_id, user_id, joined_at, last_read_at
        FROM conversation_participants WHERE conversation_id=$1 ORDER BY joined_at, user_id`, conversationID); err != nil {
		return nil, err
	}
	for i := range participants {
		participants[i].JoinedAt = models.UTC(participants[i].JoinedAt)
		if participants[i].LastReadAt != nil {
			t := participants[i].LastReadAt.UTC()
			participants[i].LastReadAt = &t
		}
	}
	return participants, nil
}
