package iam

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
)

func localUser(t *testing.T, id, email, password string) *models.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	tenant := "acme"
	return &models.User{
		ID:           id,
		Email:        email,
		Name:         "Test User",
		PasswordHash: &hash,
		Tenant:       &tenant,
		Role:         auth.RoleTenant,
		Provider:     auth.ProviderLocal,
	}
}

func TestLocalVerifier_Success(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	v := NewLocalVerifier(users, nil)

	identity, err := v.Verify(context.Background(), Credentials{Email: "alice@example.com", Password: "correct horse"})
	require.NoError(t, err)

	assert.Equal(t, "u1", identity.ID)
	assert.Equal(t, "acme", identity.Tenant)
	assert.Equal(t, auth.RoleTenant, identity.Role)

	stored, _ := users.GetByID(context.Background(), "u1")
	assert.NotNil(t, stored.LastLoginAt)
}

func TestLocalVerifier_FailuresAreIndistinguishable(t *testing.T) {
	disabled := localUser(t, "u2", "gone@example.com", "correct horse")
	now := time.Now()
	disabled.DisabledAt = &now
	noHash := &models.User{ID: "u3", Email: "sso@example.com", Provider: auth.ProviderOIDC}

	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"), disabled, noHash)
	v := NewLocalVerifier(users, nil)
	ctx := context.Background()

	cases := map[string]Credentials{
		"wrong password": {Email: "alice@example.com", Password: "wrong horse"},
		"unknown email":  {Email: "nobody@example.com", Password: "correct horse"},
		"case differs":   {Email: "ALICE@example.com", Password: "correct horse"},
		"padded email":   {Email: " alice@example.com ", Password: "correct horse"},
		"disabled user":  {Email: "gone@example.com", Password: "correct horse"},
		"no local hash":  {Email: "sso@example.com", Password: "correct horse"},
		"empty password": {Email: "alice@example.com"},
		"empty email":    {Password: "correct horse"},
	}

	for name, creds := range cases {
		t.Run(name, func(t *testing.T) {
			identity, err := v.Verify(ctx, creds)
			assert.Nil(t, identity)
			assert.Equal(t, auth.ErrAuthenticationFailed, err)
		})
	}
}

func TestOIDCVerifier_ExistingSubject(t *testing.T) {
	subject := "idp|1"
	users := newMockUserRepository(&models.User{ID: "u1", Email: "fed@example.com", Subject: &subject, Role: auth.RoleAdmin})
	v := NewOIDCVerifier(users, nil)

	identity, err := v.Verify(context.Background(), Credentials{External: &auth.ExternalClaims{Subject: "idp|1"}})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)
	assert.True(t, identity.IsAdmin())
}

func TestOIDCVerifier_LinksByEmail(t *testing.T) {
	users := newMockUserRepository(localUser(t, "u1", "alice@example.com", "correct horse"))
	v := NewOIDCVerifier(users, nil)

	identity, err := v.Verify(context.Background(), Credentials{External: &auth.ExternalClaims{
		Subject: "idp|alice", Email: "alice@example.com", EmailVerified: true,
	}})
	require.NoError(t, err)
	assert.Equal(t, "u1", identity.ID)

	linked, err := users.GetBySubject(context.Background(), "idp|alice")
	require.NoError(t, err)
	assert.Equal(t, "u1", linked.ID)
}

func TestOIDCVerifier_ProvisionsWithoutPrivileges(t *testing.T) {
	users := newMockUserRepository()
	v := NewOIDCVerifier(users, nil)

	identity, err := v.Verify(context.Background(), Credentials{External: &auth.ExternalClaims{
		Subject: "idp|new", Email: "new@example.com", EmailVerified: true, Name: "New Person",
	}})
	require.NoError(t, err)
	assert.Equal(t, "new@example.com", identity.Email)
	assert.Empty(t, identity.Role)
	assert.Empty(t, identity.Tenant)
	assert.Equal(t, auth.ProviderOIDC, identity.Provider)
}

func TestOIDCVerifier_Rejections(t *testing.T) {
	other := "idp|other"
	users := newMockUserRepository(&models.User{ID: "u1", Email: "taken@example.com", Subject: &other})
	v := NewOIDCVerifier(users, nil)
	ctx := context.Background()

	_, err := v.Verify(ctx, Credentials{})
	assert.Equal(t, auth.ErrAuthenticationFailed, err)

	_, err = v.Verify(ctx, Credentials{External: &auth.ExternalClaims{Subject: "idp|x"}})
	assert.Equal(t, auth.ErrAuthenticationFailed, err, "no email to provision with")

	_, err = v.Verify(ctx, Credentials{External: &auth.ExternalClaims{Subject: "idp|x", Email: "taken@example.com", EmailVerified: true}})
	assert.Equal(t, auth.ErrAuthenticationFailed, err, "email bound to another subject")
}

func TestOIDCVerifier_UnverifiedEmailIsNotTrusted(t *testing.T) {
	admin := localUser(t, "u1", "admin@example.com", "correct horse")
	admin.Role = auth.RoleAdmin
	users := newMockUserRepository(admin)
	v := NewOIDCVerifier(users, nil)
	ctx := context.Background()

	identity, err := v.Verify(ctx, Credentials{External: &auth.ExternalClaims{
		Subject: "idp|attacker", Email: "admin@example.com",
	}})
	assert.Nil(t, identity)
	assert.Equal(t, auth.ErrAuthenticationFailed, err)

	stored, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, stored.Subject, "existing user left unlinked")

	_, err = v.Verify(ctx, Credentials{External: &auth.ExternalClaims{
		Subject: "idp|fresh", Email: "fresh@example.com",
	}})
	assert.Equal(t, auth.ErrAuthenticationFailed, err)
	_, err = users.GetByEmail(ctx, "fresh@example.com")
	assert.Error(t, err, "no user provisioned from an unverified email")
}
