package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"cowork-chat/internal/models"
)

// ErrReactionExists signals a unique-constraint race on insert.
var ErrReactionExists = errors.New("reaction already exists")

// ReactionRepository stores per-user emoji reactions on messages.
type ReactionRepository interface {
	Find(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, bool, error)
	Insert(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, error)
	Delete(ctx context.Context, messageID int, userID int, emoji string) (bool, error)
	ListForMessage(ctx context.Context, messageID int) ([]models.Reaction, error)
	ListForMessages(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error)
}

// ReactionRepo is the sqlx implementation of ReactionRepository.
type ReactionRepo struct {
	db *sqlx.DB
}

// NewReactionRepo constructs ReactionRepo.
func NewReactionRepo(db *sqlx.DB) *ReactionRepo {
	return &ReactionRepo{db: db}
}

func (r *ReactionRepo) Find(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, bool, error) {
	var reaction models.Reaction
	err := r.db.GetContext(ctx, &reaction, `SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, false, nil
	}
	if err != nil {
		return models.Reaction{}, false, err
	}
	reaction.CreatedAt = models.UTC(reaction.CreatedAt)
	return reaction, true, nil
}

// Insert adds the reaction; ErrReactionExists when the triple is already stored.
func (r *ReactionRepo) Insert(ctx context.Context, messageID int, userID int, emoji string) (models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.QueryRowxContext(ctx, `INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
        ON CONFLICT ON CONSTRAINT message_reactions_unique DO NOTHING
        RETURNING id, message_id, user_id, emoji, created_at`, messageID, userID, emoji).StructScan(&reaction)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reaction{}, ErrReactionExists
	}
	if err != nil {
		return models.Reaction{}, err
	}
	reaction.CreatedAt = models.UTC(reaction.CreatedAt)
	return reaction, nil
}

// Delete removes the reaction and reports whether a row existed.
func (r *ReactionRepo) Delete(ctx context.Context, messageID int, userID int, emoji string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM message_reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	if err != nil {
		return false, err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *ReactionRepo) ListForMessage(ctx context.Context, messageID int) ([]models.Reaction, error) {
	reactions := []models.Reaction{}
	if err := r.db.SelectContext(ctx, &reactions, `SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id=$1 ORDER BY created_at, id`, messageID); err != nil {
		return nil, err
	}
	for i := range reactions {
		reactions[i].CreatedAt = models.UTC(reactions[i].CreatedAt)
	}
	return reactions, nil
}

// ListForMessages loads reactions for a page of messages keyed by message id.
func (r *ReactionRepo) ListForMessages(ctx context.Context, messageIDs []int) (map[int][]models.Reaction, error) {
	out := make(map[int][]models.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, message_id, user_id, emoji, created_at FROM message_reactions
        WHERE message_id IN (?) ORDER BY created_at, id`, messageIDs)
	if err != nil {
		return nil, err
	}
	var reactions []models.Reaction
	if err := r.db.SelectContext(ctx, &reactions, r.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, reaction := range reactions {
		reaction.CreatedAt = models.UTC(reaction.CreatedAt)
		out[reaction.MessageID] = append(out[reaction.MessageID], reaction)
	}
	return out, nil
}
