package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) *RedisSessionRepository {
	t.Helper()

	url := os.Getenv("GATEWAY_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GATEWAY_TEST_REDIS_URL not set")
	}
	client, err := OpenRedis(context.Background(), url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSessionRepository(client)
}

func TestRedisSessionRepository_Lifecycle(t *testing.T) {
	repo := setupRedis(t)
	ctx := context.Background()

	sess := newTestSession("redis-hash-1", time.Minute)
	userID := "user-" + sess.ID
	require.NoError(t, repo.Save(ctx, sess))

	fetched, err := repo.GetByTokenHash(ctx, "redis-hash-1")
	require.NoError(t, err)
	assert.Equal(t, sess.ID, fetched.ID)

	// rotation drops the old token key
	sess.TokenHash = "redis-hash-2"
	sess.UserID = &userID
	require.NoError(t, repo.Save(ctx, sess))

	_, err = repo.GetByTokenHash(ctx, "redis-hash-1")
	assert.ErrorIs(t, err, ErrNotFound)

	fetched, err = repo.GetByTokenHash(ctx, "redis-hash-2")
	require.NoError(t, err)
	assert.True(t, fetched.Authenticated())

	require.NoError(t, repo.DeleteByUserID(ctx, userID))
	_, err = repo.GetByTokenHash(ctx, "redis-hash-2")
	assert.ErrorIs(t, err, ErrNotFound)

	// idempotent
	require.NoError(t, repo.Delete(ctx, sess.ID))
}

func TestRedisSessionRepository_ExpiredSaveDeletes(t *testing.T) {
	repo := setupRedis(t)
	ctx := context.Background()

	sess := newTestSession("redis-expired", time.Minute)
	require.NoError(t, repo.Save(ctx, sess))

	sess.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, repo.Save(ctx, sess))

	_, err := repo.GetByTokenHash(ctx, "redis-expired")
	assert.ErrorIs(t, err, ErrNotFound)
}
