package repository

import (
	"context"
	"errors"

	"github.com/terraconstructs/gridgate/internal/db/models"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// UserRepository exposes persistence operations for user records.
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetBySubject(ctx context.Context, subject string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	UpdateLastLogin(ctx context.Context, id string) error
	SetPasswordHash(ctx context.Context, id string, passwordHash string) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]models.User, error)
}

// SessionRepository is the server-side session store.
// Save is an upsert keyed by session ID; the token hash may change between saves.
type SessionRepository interface {
	Save(ctx context.Context, session *models.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error)
	// Delete is idempotent: deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	DeleteByUserID(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context) (int64, error)
}
