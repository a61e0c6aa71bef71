package handlers

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
)

type backupsMock struct {
	createFn  func(ctx context.Context) (*service.BackupResult, error)
	restoreFn func(ctx context.Context, locator string) (*service.RestoreResult, error)
	events    []models.BackupEvent
}

func (m *backupsMock) CreateBackup(ctx context.Context) (*service.BackupResult, error) {
	return m.createFn(ctx)
}

func (m *backupsMock) RestoreFromBackup(ctx context.Context, locator string) (*service.RestoreResult, error) {
	return m.restoreFn(ctx, locator)
}

func (m *backupsMock) ListBackups(context.Context) ([]models.BackupEvent, error) {
	return m.events, nil
}

type analyticsMock struct {
	doc     *models.Analytics
	cleared bool
}

func (m *analyticsMock) LoadAnalytics(context.Context) (*models.Analytics, error) {
	return m.doc, nil
}

func (m *analyticsMock) ClearErrors(context.Context) error {
	m.cleared = true
	m.doc.Errors = nil
	return nil
}

func TestCreateBackup(t *testing.T) {
	ts := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	h := &AdminHandler{Backups: &backupsMock{
		createFn: func(context.Context) (*service.BackupResult, error) {
			return &service.BackupResult{Path: "backups/x.json.gz", Location: "local", Timestamp: ts, Size: 42}, nil
		},
	}}

	rec := serve(t, http.MethodPost, "/backup", "/backup", nil, caller(models.RoleAdmin), h.CreateBackup)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[BackupResponse](t, rec)
	require.Equal(t, "Backup created successfully", resp.Message)
	require.Equal(t, int64(42), resp.Backup.Size)
}

func TestRestoreBackup(t *testing.T) {
	var got string
	h := &AdminHandler{Backups: &backupsMock{
		restoreFn: func(_ context.Context, locator string) (*service.RestoreResult, error) {
			got = locator
			if locator == "../etc/passwd" {
				return nil, fmt.Errorf("restore: %w", service.ErrBackupLocator)
			}
			if locator == "backup-missing.json.gz" {
				return nil, fmt.Errorf("open: %w", fs.ErrNotExist)
			}
			return &service.RestoreResult{Timestamp: time.Now()}, nil
		},
	}}
	admin := caller(models.RoleAdmin)

	rec := serve(t, http.MethodPost, "/restore", "/restore", map[string]string{"backupPath": " backup-a.json.gz "}, admin, h.RestoreBackup)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "backup-a.json.gz", got)

	rec = serve(t, http.MethodPost, "/restore", "/restore", map[string]string{"backupPath": "../etc/passwd"}, admin, h.RestoreBackup)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPost, "/restore", "/restore", map[string]string{"backupPath": "backup-missing.json.gz"}, admin, h.RestoreBackup)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(t, http.MethodPost, "/restore", "/restore", map[string]string{}, admin, h.RestoreBackup)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsSeries(t *testing.T) {
	an := &analyticsMock{doc: &models.Analytics{
		SystemMetrics: []models.SystemMetric{{CPUUsage: 0.5}},
		Errors:        []models.ErrorEntry{{Error: "Not Found", StatusCode: 404}},
	}}
	h := &AdminHandler{Analytics: an, Backups: &backupsMock{}}
	admin := caller(models.RoleAdmin)

	rec := serve(t, http.MethodGet, "/m", "/m", nil, admin, h.SystemMetrics)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]models.SystemMetric](t, rec), 1)

	rec = serve(t, http.MethodGet, "/m", "/m", nil, admin, h.UserMetrics)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, http.MethodGet, "/m", "/m", nil, admin, h.BookMetrics)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, http.MethodGet, "/m", "/m", nil, admin, h.ListBackups)
	require.JSONEq(t, `[]`, rec.Body.String())

	rec = serve(t, http.MethodGet, "/m", "/m", nil, admin, h.ErrorLogs)
	require.Len(t, decode[[]models.ErrorEntry](t, rec), 1)

	rec = serve(t, http.MethodDelete, "/m", "/m", nil, admin, h.ClearErrorLogs)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, an.cleared)

	rec = serve(t, http.MethodGet, "/m", "/m", nil, admin, h.ErrorLogs)
	require.JSONEq(t, `[]`, rec.Body.String())
}

type userAdminMock struct {
	users   map[primitive.ObjectID]*models.User
	deleted []primitive.ObjectID
}

func (m *userAdminMock) ListUsers(context.Context) ([]models.User, error) {
	var out []models.User
	for _, u := range m.users {
		out = append(out, *u)
	}
	return out, nil
}

func (m *userAdminMock) UserByID(_ context.Context, id primitive.ObjectID) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *userAdminMock) UpdateUser(_ context.Context, id primitive.ObjectID, upd store.UserUpdate) (*models.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Password != nil {
		u.Password = *upd.Password
	}
	return u, nil
}

func (m *userAdminMock) DeleteUser(_ context.Context, id primitive.ObjectID) error {
	m.deleted = append(m.deleted, id)
	delete(m.users, id)
	return nil
}

func (m *userAdminMock) AdminsCount(context.Context) (int64, error) {
	var n int64
	for _, u := range m.users {
		if u.Role == models.RoleAdmin {
			n++
		}
	}
	return n, nil
}

func newUserAdminMock(users ...*models.User) *userAdminMock {
	m := &userAdminMock{users: map[primitive.ObjectID]*models.User{}}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func TestUpdateUser(t *testing.T) {
	admin := caller(models.RoleAdmin)
	reader := &models.User{ID: primitive.NewObjectID(), Name: "Reader", Role: models.RoleUser}
	users := newUserAdminMock(&models.User{ID: admin.UserID, Role: models.RoleAdmin}, reader)
	h := &UsersHandler{Users: users}
	path := "/users/" + reader.ID.Hex()

	rec := serve(t, http.MethodPut, "/users/{id}", path, map[string]string{"role": "moderator", "name": " Mod "}, admin, h.UpdateUser)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, models.RoleModerator, reader.Role)
	require.Equal(t, "Mod", reader.Name)

	rec = serve(t, http.MethodPut, "/users/{id}", path, map[string]string{"role": "root"}, admin, h.UpdateUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodPut, "/users/{id}", path, map[string]string{"password": "secret123"}, admin, h.UpdateUser)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEqual(t, "secret123", reader.Password)
	require.NotContains(t, rec.Body.String(), reader.Password)

	rec = serve(t, http.MethodPut, "/users/{id}", "/users/"+primitive.NewObjectID().Hex(), map[string]string{"name": "x"}, admin, h.UpdateUser)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLastAdminCannotBeDemoted(t *testing.T) {
	admin := caller(models.RoleAdmin)
	users := newUserAdminMock(&models.User{ID: admin.UserID, Role: models.RoleAdmin})
	h := &UsersHandler{Users: users}

	rec := serve(t, http.MethodPut, "/users/{id}", "/users/"+admin.UserID.Hex(), map[string]string{"role": "user"}, admin, h.UpdateUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, models.RoleAdmin, users.users[admin.UserID].Role)
}

func TestDeleteUser(t *testing.T) {
	admin := caller(models.RoleAdmin)
	other := &models.User{ID: primitive.NewObjectID(), Role: models.RoleAdmin}
	reader := &models.User{ID: primitive.NewObjectID(), Role: models.RoleUser}
	users := newUserAdminMock(&models.User{ID: admin.UserID, Role: models.RoleAdmin}, other, reader)
	h := &UsersHandler{Users: users}

	rec := serve(t, http.MethodDelete, "/users/{id}", "/users/"+admin.UserID.Hex(), nil, admin, h.DeleteUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, http.MethodDelete, "/users/{id}", "/users/"+reader.ID.Hex(), nil, admin, h.DeleteUser)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, http.MethodDelete, "/users/{id}", "/users/"+other.ID.Hex(), nil, admin, h.DeleteUser)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []primitive.ObjectID{reader.ID, other.ID}, users.deleted)

	// Only the caller is left.
	rec = serve(t, http.MethodGet, "/users", "/users", nil, admin, h.ListUsers)
	require.Equal(t, 1, decode[UserListResponse](t, rec).Count)
}

func TestDeleteLastAdminByAnotherAdmin(t *testing.T) {
	// The caller's token still says admin, but the stored record was demoted.
	admin := caller(models.RoleAdmin)
	last := &models.User{ID: primitive.NewObjectID(), Role: models.RoleAdmin}
	users := newUserAdminMock(&models.User{ID: admin.UserID, Role: models.RoleUser}, last)
	h := &UsersHandler{Users: users}

	rec := serve(t, http.MethodDelete, "/users/{id}", "/users/"+last.ID.Hex(), nil, admin, h.DeleteUser)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, users.deleted)
}
