package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/kevinaaaquil/bookcatalog/middleware"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type UserAdminStore interface {
	ListUsers(ctx context.Context) ([]models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	UpdateUser(ctx context.Context, id primitive.ObjectID, upd store.UserUpdate) (*models.User, error)
	DeleteUser(ctx context.Context, id primitive.ObjectID) error
	AdminsCount(ctx context.Context) (int64, error)
}

// UsersHandler is the admin user management API.
type UsersHandler struct {
	Users UserAdminStore
}

type UpdateUserRequest struct {
	Name     *string `json:"name" validate:"omitempty,min=1,max=100"`
	Role     *string `json:"role" validate:"omitempty,oneof=user moderator admin"`
	Password *string `json:"password" validate:"omitempty,min=6,max=72"`
}

type UserListResponse struct {
	Count int           `json:"count"`
	Data  []models.User `json:"data"`
}

func (h *UsersHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		writeFailure(w, r, err, "failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, UserListResponse{Count: len(users), Data: users})
}

// UpdateUser changes name, role or password. The last admin cannot be demoted.
func (h *UsersHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r, "id", "user")
	if !ok {
		return
	}
	var req UpdateUserRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.Users.UserByID(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}

	var upd store.UserUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		upd.Name = &name
	}
	if req.Role != nil {
		role, _ := models.ParseRole(*req.Role)
		if user.Role == models.RoleAdmin && role != models.RoleAdmin {
			if !h.otherAdminExists(w, r) {
				return
			}
		}
		upd.Role = &role
	}
	if req.Password != nil {
		hash, err := bcrypt.GenerateFromPassword([]byte(*req.Password), bcrypt.DefaultCost)
		if err != nil {
			writeError(w, r, http.StatusInternalServerError, "failed to update user", err)
			return
		}
		s := string(hash)
		upd.Password = &s
	}

	updated, err := h.Users.UpdateUser(r.Context(), id, upd)
	if err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteUser refuses to delete the caller or the last admin.
func (h *UsersHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := objectIDParam(w, r, "id", "user")
	if !ok {
		return
	}
	caller, _ := middleware.IdentityFromContext(r.Context())
	if caller.UserID == id {
		writeError(w, r, http.StatusBadRequest, "cannot delete your own account", nil)
		return
	}
	user, err := h.Users.UserByID(r.Context(), id)
	if err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	if user.Role == models.RoleAdmin && !h.otherAdminExists(w, r) {
		return
	}
	if err := h.Users.DeleteUser(r.Context(), id); err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	writeMessage(w, http.StatusOK, "User deleted successfully")
}

func (h *UsersHandler) otherAdminExists(w http.ResponseWriter, r *http.Request) bool {
	count, err := h.Users.AdminsCount(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "failed to count admins", err)
		return false
	}
	if count <= 1 {
		writeError(w, r, http.StatusBadRequest, "cannot remove the last admin", nil)
		return false
	}
	return true
}
