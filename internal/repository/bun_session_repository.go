package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/uptrace/bun"
)

// BunSessionRepository implements SessionRepository using Bun ORM
type BunSessionRepository struct {
	db *bun.DB
}

// NewBunSessionRepository creates a new Bun-based session repository
func NewBunSessionRepository(db *bun.DB) *BunSessionRepository {
	return &BunSessionRepository{db: db}
}

// Save inserts the session or overwrites the stored row with the same ID.
func (r *BunSessionRepository) Save(ctx context.Context, session *models.Session) error {
	_, err := r.db.NewInsert().
		Model(session).
		On("CONFLICT (id) DO UPDATE").
		Set("token_hash = EXCLUDED.token_hash").
		Set("user_id = EXCLUDED.user_id").
		Set("redirect_to = EXCLUDED.redirect_to").
		Set("flash_error = EXCLUDED.flash_error").
		Set("flash_email = EXCLUDED.flash_email").
		Set("user_agent = EXCLUDED.user_agent").
		Set("ip_address = EXCLUDED.ip_address").
		Set("last_used_at = EXCLUDED.last_used_at").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash
// This is the primary lookup method for authentication
func (r *BunSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	session := new(models.Session)
	err := r.db.NewSelect().
		Model(session).
		Where("token_hash = ?", tokenHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	return session, nil
}

// Delete removes a session. Missing sessions are ignored.
func (r *BunSessionRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUserID removes every session of a user
// Used when a user is disabled, deleted or changes password
func (r *BunSessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	_, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("user_id = ?", userID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired deletes all expired sessions
// Should be run periodically by a cleanup job
func (r *BunSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.NewDelete().
		Model((*models.Session)(nil)).
		Where("expires_at < ?", time.Now()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
