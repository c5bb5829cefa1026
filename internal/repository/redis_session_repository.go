package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/terraconstructs/gridgate/internal/db/models"
)

const redisKeyPrefix = "gridgate:"

// RedisSessionRepository implements SessionRepository on Redis.
// Sessions are JSON values keyed by token hash and expire with the session.
// Two index keys map session ID to token hash and user ID to session IDs.
type RedisSessionRepository struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisSessionRepository creates a Redis-backed session repository
func NewRedisSessionRepository(client *redis.Client) *RedisSessionRepository {
	return &RedisSessionRepository{client: client, now: time.Now}
}

// OpenRedis parses url, connects and pings.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func sessionKey(tokenHash string) string { return redisKeyPrefix + "session:" + tokenHash }
func sessionIDKey(id string) string      { return redisKeyPrefix + "session-id:" + id }
func userSessionsKey(userID string) string {
	return redisKeyPrefix + "user-sessions:" + userID
}

// Save stores the session and drops the previous token key when the token rotated.
func (r *RedisSessionRepository) Save(ctx context.Context, session *models.Session) error {
	ttl := session.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return r.Delete(ctx, session.ID)
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	previous, err := r.client.Get(ctx, sessionIDKey(session.ID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("save session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if previous != "" && previous != session.TokenHash {
			pipe.Del(ctx, sessionKey(previous))
		}
		pipe.Set(ctx, sessionKey(session.TokenHash), payload, ttl)
		pipe.Set(ctx, sessionIDKey(session.ID), session.TokenHash, ttl)
		if session.UserID != nil {
			pipe.SAdd(ctx, userSessionsKey(*session.UserID), session.ID)
			pipe.Expire(ctx, userSessionsKey(*session.UserID), ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash
func (r *RedisSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.Session, error) {
	payload, err := r.client.Get(ctx, sessionKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("session %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get session by token: %w", err)
	}

	session := new(models.Session)
	if err := json.Unmarshal(payload, session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return session, nil
}

// Delete removes a session. Missing sessions are ignored.
func (r *RedisSessionRepository) Delete(ctx context.Context, id string) error {
	tokenHash, err := r.client.Get(ctx, sessionIDKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err := r.client.Del(ctx, sessionKey(tokenHash), sessionIDKey(id)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteByUserID removes every session of a user
func (r *RedisSessionRepository) DeleteByUserID(ctx context.Context, userID string) error {
	ids, err := r.client.SMembers(ctx, userSessionsKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	for _, id := range ids {
		if err := r.Delete(ctx, id); err != nil {
			return err
		}
	}
	if err := r.client.Del(ctx, userSessionsKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete user sessions: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires keys itself.
func (r *RedisSessionRepository) DeleteExpired(context.Context) (int64, error) {
	return 0, nil
}
