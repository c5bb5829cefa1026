package iam

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
)

// OIDCVerifier maps verified ID token claims to a user record.
// Unknown subjects with a verified email are linked to an existing user with
// the same email, or provisioned with no role and no tenant.
type OIDCVerifier struct {
	users  repository.UserRepository
	logger *zap.Logger
}

// NewOIDCVerifier creates a verifier over users.
func NewOIDCVerifier(users repository.UserRepository, logger *zap.Logger) *OIDCVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OIDCVerifier{users: users, logger: logger}
}

// Verify resolves creds.External to an identity.
func (v *OIDCVerifier) Verify(ctx context.Context, creds Credentials) (*auth.Identity, error) {
	claims := creds.External
	if claims == nil || claims.Subject == "" {
		return nil, auth.ErrAuthenticationFailed
	}

	user, err := v.users.GetBySubject(ctx, claims.Subject)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		user, err = v.linkOrProvision(ctx, claims)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("lookup user by subject: %w", err)
	}

	if user.Disabled() {
		return nil, auth.ErrAuthenticationFailed
	}

	if err := v.users.UpdateLastLogin(ctx, user.ID); err != nil {
		v.logger.Warn("failed to record last login", zap.String("user_id", user.ID), zap.Error(err))
	}

	return auth.IdentityFromUser(user), nil
}

func (v *OIDCVerifier) linkOrProvision(ctx context.Context, claims *auth.ExternalClaims) (*models.User, error) {
	if claims.Email == "" {
		return nil, auth.ErrAuthenticationFailed
	}
	if !claims.EmailVerified {
		v.logger.Warn("unverified email from identity provider; not linking", zap.String("subject", claims.Subject))
		return nil, auth.ErrAuthenticationFailed
	}

	subject := claims.Subject
	user, err := v.users.GetByEmail(ctx, claims.Email)
	switch {
	case err == nil:
		if user.Subject != nil && *user.Subject != subject {
			// the email already belongs to a different external account
			return nil, auth.ErrAuthenticationFailed
		}
		user.Subject = &subject
		if err := v.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("link subject: %w", err)
		}
		v.logger.Info("linked external subject to user", zap.String("user_id", user.ID))
		return user, nil
	case errors.Is(err, repository.ErrNotFound):
		user = &models.User{
			Email:    claims.Email,
			Name:     claims.Name,
			Provider: auth.ProviderOIDC,
			Subject:  &subject,
		}
		if err := v.users.Create(ctx, user); err != nil {
			return nil, fmt.Errorf("provision user: %w", err)
		}
		v.logger.Info("provisioned user from external identity", zap.String("user_id", user.ID))
		return user, nil
	default:
		return nil, fmt.Errorf("lookup user by email: %w", err)
	}
}
