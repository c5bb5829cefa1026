package server

import (
	"context"

	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/services/iam"
)

// userAdminService defines the user management methods used by the admin API.
type userAdminService interface {
	Create(ctx context.Context, in iam.NewUser) (*models.User, error)
	Get(ctx context.Context, id string) (*models.User, error)
	List(ctx context.Context) ([]models.User, error)
	Update(ctx context.Context, id string, patch iam.UserPatch) (*models.User, error)
	SetPassword(ctx context.Context, id, password string) error
	SetDisabled(ctx context.Context, id string, disabled bool) (*models.User, error)
	Delete(ctx context.Context, id string) error
}

// Compile-time assertion: iam.UserService must implement userAdminService.
var _ userAdminService = (*iam.UserService)(nil)
