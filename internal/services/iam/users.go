package iam

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
)

// ErrInvalidUser is returned (wrapped) for rejected user input.
var ErrInvalidUser = errors.New("invalid user")

// ErrUserExists is returned when the email is already registered.
var ErrUserExists = errors.New("user already exists")

// NewUser describes a local account to create.
type NewUser struct {
	Email    string
	Name     string
	Password string
	Role     string
	Tenant   string
}

// UserPatch holds optional profile changes. Nil fields are left untouched;
// an empty Tenant clears tenant scoping.
type UserPatch struct {
	Name   *string
	Role   *string
	Tenant *string
}

// UserService manages local identities for the admin API and CLI.
type UserService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
}

// NewUserService creates a user service.
func NewUserService(users repository.UserRepository, sessions repository.SessionRepository) *UserService {
	return &UserService{users: users, sessions: sessions}
}

// Create adds a local user with a bcrypt-hashed password.
func (s *UserService) Create(ctx context.Context, in NewUser) (*models.User, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: email %q", ErrInvalidUser, in.Email)
	}
	if err := validateRole(in.Role); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}

	switch _, err := s.users.GetByEmail(ctx, email); {
	case err == nil:
		return nil, fmt.Errorf("%w: %s", ErrUserExists, email)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, err
	}

	user := &models.User{
		Email:        email,
		Name:         strings.TrimSpace(in.Name),
		PasswordHash: &hash,
		Role:         in.Role,
		Provider:     auth.ProviderLocal,
	}
	if t := strings.TrimSpace(in.Tenant); t != "" {
		user.Tenant = &t
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	return s.users.GetByID(ctx, id)
}

// GetByEmail returns a user by exact email.
func (s *UserService) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.users.GetByEmail(ctx, email)
}

// List returns every user, newest first.
func (s *UserService) List(ctx context.Context) ([]models.User, error) {
	return s.users.List(ctx)
}

// Update applies a profile patch.
func (s *UserService) Update(ctx context.Context, id string, patch UserPatch) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		user.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Role != nil {
		if err := validateRole(*patch.Role); err != nil {
			return nil, err
		}
		user.Role = *patch.Role
	}
	if patch.Tenant != nil {
		if t := strings.TrimSpace(*patch.Tenant); t != "" {
			user.Tenant = &t
		} else {
			user.Tenant = nil
		}
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword replaces a user's password and ends their sessions.
func (s *UserService) SetPassword(ctx context.Context, id, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUser, err)
	}
	if err := s.users.SetPasswordHash(ctx, id, hash); err != nil {
		return err
	}
	return s.sessions.DeleteByUserID(ctx, id)
}

// SetDisabled disables or re-enables a user. Disabling ends their sessions.
func (s *UserService) SetDisabled(ctx context.Context, id string, disabled bool) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if disabled {
		now := time.Now()
		user.DisabledAt = &now
	} else {
		user.DisabledAt = nil
	}
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	if disabled {
		if err := s.sessions.DeleteByUserID(ctx, id); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Delete removes a user and their sessions.
func (s *UserService) Delete(ctx context.Context, id string) error {
	if err := s.sessions.DeleteByUserID(ctx, id); err != nil {
		return err
	}
	return s.users.Delete(ctx, id)
}

func validateRole(role string) error {
	switch role {
	case "", auth.RoleAdmin, auth.RoleTenant:
		return nil
	default:
		return fmt.Errorf("%w: role %q (want admin, tenant or empty)", ErrInvalidUser, role)
	}
}
