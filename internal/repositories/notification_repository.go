package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"

	"cowork-chat/internal/models"
)

// NotificationRepository persists durable notifications for offline users.
type NotificationRepository interface {
	Create(ctx context.Context, n models.Notification) (models.Notification, error)
	MarkReadByReference(ctx context.Context, userID int, reference string) (int64, error)
}

type NotificationRepo struct {
	db *sqlx.DB
}

func NewNotificationRepo(db *sqlx.DB) *NotificationRepo {
	return &NotificationRepo{db: db}
}

func (r *NotificationRepo) Create(ctx context.Context, n models.Notification) (models.Notification, error) {
	var out models.Notification
	err := r.db.QueryRowxContext(ctx, `INSERT INTO notifications (user_id, type, message, related_entity_id, reference, link)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, user_id, type, message, is_read, created_at, related_entity_id, reference, link`,
		n.UserID, n.Type, n.Message, n.RelatedEntityID, n.Reference, n.Link).StructScan(&out)
	if err != nil {
		return models.Notification{}, err
	}
	out.CreatedAt = models.UTC(out.CreatedAt)
	return out, nil
}

// MarkReadByReference resolves every unread notification of userID carrying reference.
func (r *NotificationRepo) MarkReadByReference(ctx context.Context, userID int, reference string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id=$1 AND reference=$2 AND is_read = FALSE`, userID, reference)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
