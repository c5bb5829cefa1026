package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/auth"
	"github.com/terraconstructs/gridgate/internal/db/models"
	"github.com/terraconstructs/gridgate/internal/repository"
	"github.com/terraconstructs/gridgate/internal/services/iam"
)

// UserResponse represents user data in API responses. Password hashes never leave the server.
type UserResponse struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Role        string     `json:"role,omitempty"`
	Tenant      string     `json:"tenant,omitempty"`
	Provider    string     `json:"provider"`
	Disabled    bool       `json:"disabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Email:       u.Email,
		Name:        u.Name,
		Role:        u.Role,
		Tenant:      u.TenantName(),
		Provider:    u.Provider,
		Disabled:    u.Disabled(),
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

type createUserRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
	Tenant   string `json:"tenant"`
}

type updateUserRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	Tenant   *string `json:"tenant"`
	Disabled *bool   `json:"disabled"`
}

type setPasswordRequest struct {
	Password string `json:"password"`
}

// userHandlers serves the admin-only /api/users endpoints.
type userHandlers struct {
	users  userAdminService
	logger *zap.Logger
}

func (h *userHandlers) routes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Patch("/{id}", h.update)
	r.Delete("/{id}", h.delete)
	r.Put("/{id}/password", h.setPassword)
}

func (h *userHandlers) list(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, toUserResponse(&users[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *userHandlers) create(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody.Error())
		return
	}
	user, err := h.users.Create(r.Context(), iam.NewUser(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("user created", zap.String("user_id", user.ID), zap.String("by", actorID(r)))
	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

func (h *userHandlers) get(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *userHandlers) update(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody.Error())
		return
	}
	if req.Disabled != nil && *req.Disabled && id == actorID(r) {
		writeError(w, http.StatusBadRequest, "cannot disable yourself")
		return
	}

	user, err := h.users.Update(r.Context(), id, iam.UserPatch{Name: req.Name, Role: req.Role, Tenant: req.Tenant})
	if err != nil {
		h.fail(w, err)
		return
	}
	if req.Disabled != nil {
		if user, err = h.users.SetDisabled(r.Context(), id, *req.Disabled); err != nil {
			h.fail(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *userHandlers) delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == actorID(r) {
		writeError(w, http.StatusBadRequest, "cannot delete yourself")
		return
	}
	if err := h.users.Delete(r.Context(), id); err != nil {
		h.fail(w, err)
		return
	}
	h.logger.Info("user deleted", zap.String("user_id", id), zap.String("by", actorID(r)))
	w.WriteHeader(http.StatusNoContent)
}

func (h *userHandlers) setPassword(w http.ResponseWriter, r *http.Request) {
	var req setPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrInvalidRequestBody.Error())
		return
	}
	if err := h.users.SetPassword(r.Context(), chi.URLParam(r, "id"), req.Password); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *userHandlers) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, iam.ErrUserExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, iam.ErrInvalidUser):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("user admin request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func actorID(r *http.Request) string {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok {
		return identity.ID
	}
	return ""
}
