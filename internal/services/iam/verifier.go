package iam

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/repository"
)

// Strategy names used to register verifiers on the authenticator.
const (
	StrategyLocal = "local"
	StrategyOIDC  = "oidc"
)

// Credentials carries whatever a strategy needs to verify a login attempt.
type Credentials struct {
	Email    string
	Password string
	// External is set by the OIDC callback after the code exchange.
	External *auth.ExternalClaims
}

// CredentialVerifier checks credentials and returns the identity they prove.
//
// Every rejection returns auth.ErrAuthenticationFailed, whatever the cause,
// so callers cannot tell an unknown account from a wrong secret.
// Other errors mean the verifier could not decide (store unavailable).
type CredentialVerifier interface {
	Verify(ctx context.Context, creds Credentials) (*auth.Identity, error)
}

// LocalVerifier verifies email and password against bcrypt hashes in the user store.
type LocalVerifier struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewLocalVerifier creates a verifier over users.
func NewLocalVerifier(users repository.UserRepository, logger *zap.Logger) *LocalVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LocalVerifier{users: users, logger: logger}
}

// Verify looks the user up by exact email and compares the password.
func (v *LocalVerifier) Verify(ctx context.Context, creds Credentials) (*auth.Identity, error) {
	email := creds.Email
	if email == "" || creds.Password == "" {
		return nil, auth.ErrAuthenticationFailed
	}

	user, err := v.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// same bcrypt work as a wrong password
			_ = auth.CheckPassword(nil, creds.Password)
			return nil, auth.ErrAuthenticationFailed
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := auth.CheckPassword(user.PasswordHash, creds.Password); err != nil {
		return nil, err
	}
	if user.Disabled() {
		return nil, auth.ErrAuthenticationFailed
	}

	if err := v.users.UpdateLastLogin(ctx, user.ID); err != nil {
		v.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return auth.IdentityFromUser(user), nil
}
