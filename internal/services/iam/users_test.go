package iam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
)

func TestUserService_Create(t *testing.T) {
	svc := NewUserService(newMockUserRepository(), newMockSessionRepository())

	user, err := svc.Create(context.Background(), NewUser{
		Email: " bob@example.com ", Name: "Bob", Password: "long enough", Role: auth.RoleTenant, Tenant: "acme",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "bob@example.com", user.Email)
	assert.Equal(t, "acme", user.TenantName())
	require.NotNil(t, user.PasswordHash)
	assert.NoError(t, auth.CheckPassword(user.PasswordHash, "long enough"))
}

func TestUserService_CreateDuplicateEmail(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	svc := NewUserService(users, newMockSessionRepository())

	_, err := svc.Create(context.Background(), NewUser{Email: "alice@example.com", Password: "long enough"})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestUserService_CreateRejectsInvalidInput(t *testing.T) {
	svc := NewUserService(newMockUserRepository(), newMockSessionRepository())

	tests := []struct {
		name string
		in   NewUser
	}{
		{"missing email", NewUser{Password: "long enough"}},
		{"malformed email", NewUser{Email: "bob", Password: "long enough"}},
		{"short password", NewUser{Email: "bob@example.com", Password: "short"}},
		{"unknown role", NewUser{Email: "bob@example.com", Password: "long enough", Role: "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidUser)
		})
	}
}

func TestUserService_UpdateClearsTenant(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	svc := NewUserService(users, newMockSessionRepository())

	empty := ""
	admin := auth.RoleAdmin
	user, err := svc.Update(context.Background(), "u1", UserPatch{Tenant: &empty, Role: &admin})
	require.NoError(t, err)
	assert.Nil(t, user.Tenant)
	assert.Equal(t, auth.RoleAdmin, user.Role)

	bogus := "superuser"
	_, err = svc.Update(context.Background(), "u1", UserPatch{Role: &bogus})
	assert.ErrorIs(t, err, ErrInvalidUser)
}

func TestUserService_SetPasswordRevokesSessions(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	sessions := newMockSessionRepository()
	uid := "u1"
	require.NoError(t, sessions.Save(context.Background(), &models.Session{ID: "s1", TokenHash: "h", UserID: &uid, ExpiresAt: time.Now().Add(time.Hour)}))

	svc := NewUserService(users, sessions)
	require.NoError(t, svc.SetPassword(context.Background(), "u1", "battery staple"))

	assert.Zero(t, sessions.count())
	user, _ := users.GetByID(context.Background(), "u1")
	assert.NoError(t, auth.CheckPassword(user.PasswordHash, "battery staple"))
}

func TestUserService_SetDisabled(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	sessions := newMockSessionRepository()
	uid := "u1"
	require.NoError(t, sessions.Save(context.Background(), &models.Session{ID: "s1", TokenHash: "h", UserID: &uid, ExpiresAt: time.Now().Add(time.Hour)}))
	svc := NewUserService(users, sessions)

	user, err := svc.SetDisabled(context.Background(), "u1", true)
	require.NoError(t, err)
	assert.True(t, user.Disabled())
	assert.Zero(t, sessions.count())

	user, err = svc.SetDisabled(context.Background(), "u1", false)
	require.NoError(t, err)
	assert.False(t, user.Disabled())
}

func TestUserService_DeleteMissing(t *testing.T) {
	svc := NewUserService(newMockUserRepository(), newMockSessionRepository())
	err := svc.Delete(context.Background(), "nope")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
