package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

type backupStoreMock struct {
	books     []models.Book
	users     []models.User
	analytics []models.Analytics
	booksErr  error

	replaced []string
	events   []models.BackupEvent
}

func (m *backupStoreMock) AllBooks(context.Context) ([]models.Book, error) {
	return m.books, m.booksErr
}

func (m *backupStoreMock) AllUsers(context.Context) ([]models.User, error) {
	return m.users, nil
}

func (m *backupStoreMock) AllAnalytics(context.Context) ([]models.Analytics, error) {
	return m.analytics, nil
}

func (m *backupStoreMock) ReplaceBooks(_ context.Context, books []models.Book) error {
	m.replaced = append(m.replaced, "books")
	m.books = books
	return nil
}

func (m *backupStoreMock) ReplaceUsers(_ context.Context, users []models.User) error {
	m.replaced = append(m.replaced, "users")
	m.users = users
	return nil
}

func (m *backupStoreMock) ReplaceAnalytics(_ context.Context, docs []models.Analytics) error {
	m.replaced = append(m.replaced, "analytics")
	m.analytics = docs
	return nil
}

func (m *backupStoreMock) PushBackupEvent(_ context.Context, e models.BackupEvent) error {
	m.events = append(m.events, e)
	return nil
}

func (m *backupStoreMock) LoadAnalytics(context.Context) (*models.Analytics, error) {
	return &models.Analytics{Backups: m.events}, nil
}

type objectStoreMock struct {
	objects map[string][]byte
}

func (m *objectStoreMock) Put(_ context.Context, key string, body io.Reader, _ string) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.objects[key] = b
	return nil
}

func (m *objectStoreMock) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

type reindexerMock struct {
	books []models.Book
	err   error
	calls int
}

func (m *reindexerMock) ReindexAll(_ context.Context, books []models.Book) error {
	m.calls++
	m.books = books
	return m.err
}

type notifierMock struct {
	subjects []string
}

func (m *notifierMock) Notify(_ context.Context, subject, _ string) error {
	m.subjects = append(m.subjects, subject)
	return nil
}

func fixedClock() time.Time {
	return time.Date(2024, 3, 9, 14, 5, 6, 789_000_000, time.UTC)
}

func sampleStore() *backupStoreMock {
	return &backupStoreMock{
		books: []models.Book{
			{ID: oid("000000000000000000000001"), Title: "Dune", Author: "Herbert", PublishYear: 1965},
			{ID: oid("000000000000000000000002"), Title: "Emma", Author: "Austen", PublishYear: 1815},
		},
		users: []models.User{
			{ID: oid("0000000000000000000000a1"), Name: "Ann", Email: "ann@example.com", Password: "$2a$10$hash", Role: models.RoleAdmin},
		},
		analytics: []models.Analytics{{ID: "analytics"}},
	}
}

func TestBackupFileName(t *testing.T) {
	require.Equal(t, "backup-2024-03-09T14-05-06-789Z.json.gz", BackupFileName(fixedClock()))
}

func TestEncodeDecodeBundle(t *testing.T) {
	bundle := &models.BackupBundle{
		Timestamp: fixedClock(),
		Books:     []models.Book{{Title: "Dune"}},
		Users:     []models.User{{Name: "Ann", Password: "secret"}},
		Analytics: []models.Analytics{},
		Metadata:  models.BackupMetadata{Version: models.BackupFormatVersion, TotalBooks: 1, TotalUsers: 1},
	}
	key := bytes.Repeat([]byte{7}, 32)

	for name, k := range map[string][]byte{"plain": nil, "sealed": key} {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeBundle(bundle, k)
			require.NoError(t, err)
			require.Equal(t, k != nil, utils.IsSealed(data))

			got, err := DecodeBundle(data, k)
			require.NoError(t, err)
			require.Equal(t, "Dune", got.Books[0].Title)
			require.Empty(t, got.Users[0].Password)
			require.Equal(t, 1, got.Metadata.TotalBooks)
			require.True(t, bundle.Timestamp.Equal(got.Timestamp))
		})
	}

	sealed, err := EncodeBundle(bundle, key)
	require.NoError(t, err)
	_, err = DecodeBundle(sealed, nil)
	require.ErrorIs(t, err, models.ErrInvalidBackup)

	_, err = DecodeBundle(sealed, bytes.Repeat([]byte{8}, 32))
	require.ErrorIs(t, err, models.ErrInvalidBackup)

	sealed[len(sealed)-1] ^= 0xff
	_, err = DecodeBundle(sealed, key)
	require.ErrorIs(t, err, models.ErrInvalidBackup)
}

func TestValidateBundle(t *testing.T) {
	err := ValidateBundle([]byte(`{"timestamp":"2024-01-01T00:00:00Z","books":[],"users":[]}`))
	require.ErrorIs(t, err, models.ErrInvalidBackup)
	require.Contains(t, err.Error(), "analytics")
	require.Contains(t, err.Error(), "metadata")

	err = ValidateBundle([]byte(`{"timestamp":"x","books":{},"users":[],"analytics":[],"metadata":{}}`))
	require.ErrorIs(t, err, models.ErrInvalidBackup)
	require.Contains(t, err.Error(), "books is not an array")

	require.ErrorIs(t, ValidateBundle([]byte(`[1,2]`)), models.ErrInvalidBackup)
	require.NoError(t, ValidateBundle([]byte(`{"timestamp":"x","books":[],"users":[],"analytics":[],"metadata":{}}`)))
}

func TestDecodeBundleRejectsNonGzip(t *testing.T) {
	_, err := DecodeBundle([]byte("not a backup"), nil)
	require.ErrorIs(t, err, models.ErrInvalidBackup)
}

func TestCreateAndRestoreBackup(t *testing.T) {
	dir := t.TempDir()
	st := sampleStore()
	remote := &objectStoreMock{objects: map[string][]byte{}}
	svc := NewBackupService(st, remote, nil, dir, nil)
	svc.now = fixedClock

	res, err := svc.CreateBackup(context.Background())
	require.NoError(t, err)
	require.Equal(t, "s3", res.Location)
	require.Equal(t, filepath.Join(dir, BackupFileName(fixedClock())), res.Path)
	require.FileExists(t, res.Path)
	require.Contains(t, remote.objects, BackupFileName(fixedClock()))
	require.Len(t, st.events, 1)
	require.Equal(t, models.BackupCompleted, st.events[0].Status)
	require.Positive(t, st.events[0].Size)

	st.books, st.users = nil, nil
	restored, err := svc.RestoreFromBackup(context.Background(), filepath.Base(res.Path))
	require.NoError(t, err)
	require.Equal(t, 2, restored.Metadata.TotalBooks)
	require.Equal(t, []string{"books", "users", "analytics"}, st.replaced)
	require.Len(t, st.books, 2)
	require.Equal(t, "ann@example.com", st.users[0].Email)

	st.replaced = nil
	_, err = svc.RestoreFromBackup(context.Background(), "s3://"+BackupFileName(fixedClock()))
	require.NoError(t, err)
	require.Len(t, st.replaced, 3)

	events, err := svc.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRestoreAcceptsPathWithBackupDir(t *testing.T) {
	dir := t.TempDir()
	st := sampleStore()
	svc := NewBackupService(st, nil, nil, dir, nil)
	svc.now = fixedClock

	res, err := svc.CreateBackup(context.Background())
	require.NoError(t, err)
	require.Equal(t, "local", res.Location)

	_, err = svc.RestoreFromBackup(context.Background(), res.Path)
	require.NoError(t, err)
}

func TestEmptyStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st := &backupStoreMock{}
	svc := NewBackupService(st, nil, nil, dir, nil)
	svc.now = fixedClock

	res, err := svc.CreateBackup(context.Background())
	require.NoError(t, err)
	restored, err := svc.RestoreFromBackup(context.Background(), filepath.Base(res.Path))
	require.NoError(t, err)
	require.Zero(t, restored.Metadata.TotalBooks)
	require.NotNil(t, st.books)
	require.Empty(t, st.books)
}

func TestRestoreReindexesSearch(t *testing.T) {
	dir := t.TempDir()
	st := sampleStore()
	idx := &reindexerMock{}
	svc := NewBackupService(st, nil, nil, dir, nil).WithSearchIndex(idx)
	svc.now = fixedClock

	res, err := svc.CreateBackup(context.Background())
	require.NoError(t, err)

	restored, err := svc.RestoreFromBackup(context.Background(), filepath.Base(res.Path))
	require.NoError(t, err)
	require.True(t, restored.Reindexed)
	require.Equal(t, 1, idx.calls)
	require.Len(t, idx.books, 2)
	require.Equal(t, "Dune", idx.books[0].Title)

	idx.err = errors.New("index unavailable")
	restored, err = svc.RestoreFromBackup(context.Background(), filepath.Base(res.Path))
	require.NoError(t, err)
	require.False(t, restored.Reindexed)
	require.Equal(t, 2, idx.calls)
}

func TestRestoreMissingFile(t *testing.T) {
	svc := NewBackupService(sampleStore(), nil, nil, t.TempDir(), nil)
	_, err := svc.RestoreFromBackup(context.Background(), "backup-missing.json.gz")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRestoreRejectsTraversal(t *testing.T) {
	svc := NewBackupService(sampleStore(), nil, nil, t.TempDir(), nil)
	for _, loc := range []string{"../etc/passwd", "/etc/passwd", "", "..", "sub/backup.json.gz", "s3://"} {
		_, err := svc.RestoreFromBackup(context.Background(), loc)
		require.Error(t, err, loc)
	}
}

func TestRestoreRejectsInvalidBundle(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write([]byte(`{"timestamp":"2024-01-01T00:00:00Z","books":[]}`))
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json.gz"), buf.Bytes(), 0o600))

	st := sampleStore()
	svc := NewBackupService(st, nil, nil, dir, nil)
	_, err := svc.RestoreFromBackup(context.Background(), "bad.json.gz")
	require.ErrorIs(t, err, models.ErrInvalidBackup)
	require.Empty(t, st.replaced)
}

func TestCreateBackupFailureIsRecordedAndNotified(t *testing.T) {
	st := sampleStore()
	st.booksErr = errors.New("connection reset")
	n := &notifierMock{}
	svc := NewBackupService(st, nil, n, t.TempDir(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := svc.CreateBackup(ctx)
	cancel()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "connection reset"))

	require.Len(t, st.events, 1)
	require.Equal(t, models.BackupFailed, st.events[0].Status)
	require.Contains(t, st.events[0].Error, "connection reset")
	require.Equal(t, []string{"Book catalog backup failed"}, n.subjects)
}
