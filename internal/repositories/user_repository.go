package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"cowork-chat/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository reads account data owned by the accounts service.
type UserRepository interface {
	GetUser(ctx context.Context, userID int) (models.UserInfo, error)
}

// ConnectionRepository answers questions about the accepted-connection graph.
type ConnectionRepository interface {
	AreConnected(ctx context.Context, userA int, userB int) (bool, error)
}

type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) GetUser(ctx context.Context, userID int) (models.UserInfo, error) {
	var user models.UserInfo
	err := r.db.GetContext(ctx, &user, `SELECT id, full_name, role, is_active FROM users WHERE id=$1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.UserInfo{}, ErrUserNotFound
	}
	return user, err
}

type ConnectionRepo struct {
	db *sqlx.DB
}

func NewConnectionRepo(db *sqlx.DB) *ConnectionRepo {
	return &ConnectionRepo{db: db}
}

// AreConnected is true when an accepted connection exists in either direction.
func (r *ConnectionRepo) AreConnected(ctx context.Context, userA int, userB int) (bool, error) {
	var ok bool
	err := r.db.GetContext(ctx, &ok, `SELECT EXISTS(
        SELECT 1 FROM connections
        WHERE status = 'accepted'
        AND ((requester_id=$1 AND addressee_id=$2) OR (requester_id=$2 AND addressee_id=$1)))`, userA, userB)
	return ok, err
}
