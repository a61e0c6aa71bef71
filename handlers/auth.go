package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/middleware"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type AuthStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	SetFavoriteGenres(ctx context.Context, id primitive.ObjectID, genres []string) error
}

type AuthHandler struct {
	Users     AuthStore
	JWTSecret string
	TokenTTL  time.Duration
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type PreferencesRequest struct {
	FavoriteGenres []string `json:"favoriteGenres" validate:"max=17,dive,genre"`
}

type AuthResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "registration failed", err)
		return
	}
	user := &models.User{
		Name:        strings.TrimSpace(req.Name),
		Email:       normalizeEmail(req.Email),
		Password:    string(hash),
		Role:        models.RoleUser,
		Preferences: models.Preferences{FavoriteGenres: []string{}},
		CreatedAt:   time.Now().UTC(),
	}
	id, err := h.Users.CreateUser(r.Context(), user)
	if errors.Is(err, store.ErrDuplicate) {
		writeError(w, r, http.StatusConflict, "email already registered", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "registration failed", err)
		return
	}
	user.ID = id
	h.respondWithToken(w, r, http.StatusCreated, user)
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	user, err := h.Users.UserByEmail(r.Context(), normalizeEmail(req.Email))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, r, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "login failed", err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid email or password", nil)
		return
	}
	logging.Ctx(r.Context()).Info().Str("user_id", user.ID.Hex()).Msg("login")
	h.respondWithToken(w, r, http.StatusOK, user)
}

func (h *AuthHandler) respondWithToken(w http.ResponseWriter, r *http.Request, status int, user *models.User) {
	token, err := middleware.IssueToken(h.JWTSecret, h.TokenTTL, user)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "could not create token", err)
		return
	}
	user.ActivityLog = nil
	writeJSON(w, status, AuthResponse{Token: token, User: user})
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, _ := middleware.IdentityFromContext(r.Context())
	user, err := h.Users.UserByID(r.Context(), id.UserID)
	if err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	var req PreferencesRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.FavoriteGenres == nil {
		req.FavoriteGenres = []string{}
	}
	id, _ := middleware.IdentityFromContext(r.Context())
	if err := h.Users.SetFavoriteGenres(r.Context(), id.UserID, req.FavoriteGenres); err != nil {
		writeFailure(w, r, err, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, models.Preferences{FavoriteGenres: req.FavoriteGenres})
}
