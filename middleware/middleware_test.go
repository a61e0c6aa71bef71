package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/store"
)

const secret = "test-secret"

func bearer(t *testing.T, user *models.User, ttl time.Duration) string {
	t.Helper()
	tok, err := IssueToken(secret, ttl, user)
	require.NoError(t, err)
	return "Bearer " + tok
}

type usersMock map[primitive.ObjectID]*models.User

func (m usersMock) UserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	u, ok := m[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func identityEcho(t *testing.T, got *Identity) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		require.True(t, ok)
		*got = id
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuth(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID(), Email: "ann@example.com", Role: models.RoleModerator}
	broken := &models.User{ID: primitive.NewObjectID(), Role: "root"}
	users := usersMock{user.ID: user, broken.ID: broken}

	var got Identity
	h := Auth(secret, users)(identityEcho(t, &got))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, user, time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, Identity{UserID: user.ID, Email: user.Email, Role: models.RoleModerator}, got)

	cases := map[string]string{
		"missing":   "",
		"scheme":    "Token abc",
		"garbage":   "Bearer abc.def.ghi",
		"expired":   bearer(t, user, -time.Minute),
		"badRole":   bearer(t, broken, time.Hour),
		"unknown":   bearer(t, &models.User{ID: primitive.NewObjectID(), Role: models.RoleAdmin}, time.Hour),
		"badSecret": "Bearer " + mustSign(t, "other", user),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			require.Contains(t, rec.Body.String(), `"message"`)
		})
	}
}

func mustSign(t *testing.T, key string, user *models.User) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: user.ID.Hex(),
		Role:   user.Role,
	}).SignedString([]byte(key))
	require.NoError(t, err)
	return tok
}

func TestAuthUsesStoredAccount(t *testing.T) {
	admin := &models.User{ID: primitive.NewObjectID(), Email: "root@example.com", Role: models.RoleAdmin}
	users := usersMock{admin.ID: admin}
	token := bearer(t, admin, time.Hour)

	r := chi.NewRouter()
	r.Route("/api/admin", func(r chi.Router) {
		r.Use(Auth(secret, users), RequireCapability(models.CapManage))
		r.Post("/backup/restore", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	})
	call := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/admin/backup/restore", nil)
		req.Header.Set("Authorization", token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec.Code
	}

	require.Equal(t, http.StatusTeapot, call())

	users[admin.ID] = &models.User{ID: admin.ID, Email: admin.Email, Role: models.RoleUser}
	require.Equal(t, http.StatusForbidden, call())

	delete(users, admin.ID)
	require.Equal(t, http.StatusUnauthorized, call())
}

func TestAuthLookupFailure(t *testing.T) {
	user := &models.User{ID: primitive.NewObjectID(), Role: models.RoleUser}
	h := Auth(secret, failingUsers{})(http.NotFoundHandler())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, user, time.Hour))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingUsers struct{}

func (failingUsers) UserByID(context.Context, primitive.ObjectID) (*models.User, error) {
	return nil, errors.New("connection refused")
}

func TestRequireCapability(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireCapability(models.CapManage)(ok)

	for role, want := range map[models.Role]int{
		models.RoleUser:      http.StatusForbidden,
		models.RoleModerator: http.StatusForbidden,
		models.RoleAdmin:     http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithIdentity(req.Context(), Identity{UserID: primitive.NewObjectID(), Role: role}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, role)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCanModify(t *testing.T) {
	owner := primitive.NewObjectID()
	require.True(t, Identity{UserID: owner, Role: models.RoleUser}.CanModify(owner, models.CapManage))
	require.False(t, Identity{UserID: primitive.NewObjectID(), Role: models.RoleUser}.CanModify(owner, models.CapManage))
	require.True(t, Identity{UserID: primitive.NewObjectID(), Role: models.RoleAdmin}.CanModify(owner, models.CapManage))
	require.False(t, Identity{Role: models.RoleUser}.CanModify(primitive.NilObjectID, models.CapManage))
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, "abc-123", seen)
	require.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, seen)
	require.NotEqual(t, "abc-123", seen)
}

func TestTrackCountsOutcomes(t *testing.T) {
	counter := metrics.NewRequestCounter()
	r := chi.NewRouter()
	r.Use(Track(counter))
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/bad", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadRequest) })

	for _, p := range []string{"/ok", "/ok", "/bad", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	require.Equal(t, models.RequestStats{Total: 4, Successful: 2, Failed: 2}, counter.Snapshot())
}

type errorRecorderMock struct {
	entries chan models.ErrorEntry
}

func (m *errorRecorderMock) PushError(_ context.Context, e models.ErrorEntry) error {
	m.entries <- e
	return nil
}

func TestErrorLogRecordsFailures(t *testing.T) {
	rec := &errorRecorderMock{entries: make(chan models.ErrorEntry, 1)}
	user := &models.User{ID: primitive.NewObjectID(), Role: models.RoleUser}

	r := chi.NewRouter()
	r.Use(ErrorLog(rec))
	r.Group(func(r chi.Router) {
		r.Use(Auth(secret, usersMock{user.ID: user}))
		r.Get("/books/{id}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) })
		r.Get("/fine", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	})

	req := httptest.NewRequest(http.MethodGet, "/fine", nil)
	req.Header.Set("Authorization", bearer(t, user, time.Hour))
	r.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/books/42?x=1", nil)
	req.Header.Set("Authorization", bearer(t, user, time.Hour))
	r.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case e := <-rec.entries:
		require.Equal(t, http.StatusNotFound, e.StatusCode)
		require.Equal(t, "/books/42?x=1", e.Endpoint)
		require.Equal(t, "Not Found", e.Error)
		require.Equal(t, user.ID, e.User)
	case <-time.After(2 * time.Second):
		t.Fatal("error entry not recorded")
	}
	require.Empty(t, rec.entries)
}

func TestSecureHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecureHeaders(http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
