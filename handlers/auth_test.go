package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type authStoreMock struct {
	byEmailFn   func(ctx context.Context, email string) (*models.User, error)
	byIDFn      func(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	createFn    func(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	favoritesFn func(ctx context.Context, id primitive.ObjectID, genres []string) error
}

func (m *authStoreMock) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.byEmailFn(ctx, email)
}

func (m *authStoreMock) UserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return m.byIDFn(ctx, id)
}

func (m *authStoreMock) CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error) {
	return m.createFn(ctx, user)
}

func (m *authStoreMock) SetFavoriteGenres(ctx context.Context, id primitive.ObjectID, genres []string) error {
	return m.favoritesFn(ctx, id, genres)
}

func newAuthHandler(st AuthStore) *AuthHandler {
	return &AuthHandler{Users: st, JWTSecret: "s3cret", TokenTTL: time.Hour}
}

func TestRegister(t *testing.T) {
	id := primitive.NewObjectID()
	var created *models.User
	st := &authStoreMock{
		createFn: func(_ context.Context, u *models.User) (primitive.ObjectID, error) {
			created = u
			return id, nil
		},
	}
	h := newAuthHandler(st)

	body := `{"name":"Ann","email":" Ann@Example.COM ","password":"hunter22"}`
	rec := serve(t, http.MethodPost, "/register", "/register", body, nil, h.Register)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode[AuthResponse](t, rec)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, id, resp.User.ID)
	require.Equal(t, "ann@example.com", created.Email)
	require.Equal(t, models.RoleUser, created.Role)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.Password), []byte("hunter22")))
	require.NotContains(t, rec.Body.String(), created.Password)
}

func TestRegisterValidationAndDuplicate(t *testing.T) {
	st := &authStoreMock{
		createFn: func(context.Context, *models.User) (primitive.ObjectID, error) {
			return primitive.NilObjectID, store.ErrDuplicate
		},
	}
	h := newAuthHandler(st)

	rec := serve(t, http.MethodPost, "/register", "/register", `{"name":"Ann","email":"nope","password":"hunter22"}`, nil, h.Register)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/register", "/register", `{"name":"Ann","email":"a@b.co","password":"123"}`, nil, h.Register)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/register", "/register", `{"name":"Ann","email":"a@b.co","password":"hunter22"}`, nil, h.Register)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{ID: primitive.NewObjectID(), Email: "ann@example.com", Password: string(hash), Role: models.RoleAdmin}
	st := &authStoreMock{
		byEmailFn: func(_ context.Context, email string) (*models.User, error) {
			if email != user.Email {
				return nil, store.ErrNotFound
			}
			return user, nil
		},
	}
	h := newAuthHandler(st)

	rec := serve(t, http.MethodPost, "/login", "/login", `{"email":"ANN@example.com","password":"hunter22"}`, nil, h.Login)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, models.RoleAdmin, decode[AuthResponse](t, rec).User.Role)

	rec = serve(t, http.MethodPost, "/login", "/login", `{"email":"ann@example.com","password":"wrong"}`, nil, h.Login)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, http.MethodPost, "/login", "/login", `{"email":"bob@example.com","password":"hunter22"}`, nil, h.Login)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "invalid email or password", decode[errorResponse](t, rec).Message)
}

func TestUpdatePreferences(t *testing.T) {
	me := caller(models.RoleUser)
	var saved []string
	st := &authStoreMock{
		favoritesFn: func(_ context.Context, id primitive.ObjectID, genres []string) error {
			require.Equal(t, me.UserID, id)
			saved = genres
			return nil
		},
	}
	h := newAuthHandler(st)

	rec := serve(t, http.MethodPut, "/preferences", "/preferences", `{"favoriteGenres":["Fantasy","Mystery"]}`, me, h.UpdatePreferences)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"Fantasy", "Mystery"}, saved)

	rec = serve(t, http.MethodPut, "/preferences", "/preferences", `{"favoriteGenres":["Gardening"]}`, me, h.UpdatePreferences)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
