package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/utils"
)

const s3Scheme = "s3://"

// maxBundleBytes caps decompressed bundle size on restore.
const maxBundleBytes = 1 << 30

var ErrBackupLocator = errors.New("invalid backup path")

type BackupStore interface {
	AllBooks(ctx context.Context) ([]models.Book, error)
	AllUsers(ctx context.Context) ([]models.User, error)
	AllAnalytics(ctx context.Context) ([]models.Analytics, error)
	ReplaceBooks(ctx context.Context, books []models.Book) error
	ReplaceUsers(ctx context.Context, users []models.User) error
	ReplaceAnalytics(ctx context.Context, docs []models.Analytics) error
	PushBackupEvent(ctx context.Context, e models.BackupEvent) error
	LoadAnalytics(ctx context.Context) (*models.Analytics, error)
}

// ObjectStore is the remote half of backup storage.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Reindexer rebuilds the search index from restored books.
type Reindexer interface {
	ReindexAll(ctx context.Context, books []models.Book) error
}

type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}

type BackupResult struct {
	Path      string    `json:"path"`
	Location  string    `json:"location"`
	Timestamp time.Time `json:"timestamp"`
	Size      int64     `json:"size"`
}

type RestoreResult struct {
	Timestamp time.Time             `json:"timestamp"`
	Metadata  models.BackupMetadata `json:"metadata"`
	Reindexed bool                  `json:"reindexed"`
}

type BackupService struct {
	store    BackupStore
	remote   ObjectStore // nil keeps backups local only
	notifier Notifier    // nil disables failure mail
	index    Reindexer   // nil skips search reindex on restore
	dir      string
	key      []byte // nil leaves bundles unsealed
	now      func() time.Time
}

func NewBackupService(store BackupStore, remote ObjectStore, notifier Notifier, dir string, key []byte) *BackupService {
	return &BackupService{
		store:    store,
		remote:   remote,
		notifier: notifier,
		dir:      dir,
		key:      key,
		now:      time.Now,
	}
}

// WithSearchIndex makes restores rebuild idx from the restored books.
func (s *BackupService) WithSearchIndex(idx Reindexer) *BackupService {
	s.index = idx
	return s
}

// CreateBackup snapshots books, users and analytics into one compressed
// bundle on disk and, when configured, in the backup bucket. Every attempt
// is recorded in the analytics backup log.
func (s *BackupService) CreateBackup(ctx context.Context) (*BackupResult, error) {
	started := s.now().UTC()
	res, err := s.createBackup(ctx, started)
	if err != nil {
		s.recordFailure(ctx, started, err)
		return nil, err
	}
	metrics.BackupsTotal.WithLabelValues(models.BackupCompleted).Inc()
	metrics.BackupSizeBytes.Set(float64(res.Size))
	logging.Ctx(ctx).Info().Str("path", res.Path).Str("location", res.Location).Int64("size", res.Size).Msg("backup completed")
	return res, nil
}

func (s *BackupService) createBackup(ctx context.Context, ts time.Time) (*BackupResult, error) {
	bundle, err := s.snapshot(ctx, ts)
	if err != nil {
		return nil, err
	}
	data, err := EncodeBundle(bundle, s.key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}
	name := BackupFileName(ts)
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, fmt.Errorf("write backup: %w", err)
	}

	location := "local"
	if s.remote != nil {
		if err := s.remote.Put(ctx, name, bytes.NewReader(data), "application/gzip"); err != nil {
			return nil, fmt.Errorf("upload backup: %w", err)
		}
		location = "s3"
	}

	event := models.BackupEvent{
		Timestamp: ts,
		Status:    models.BackupCompleted,
		Location:  location,
		Size:      int64(len(data)),
	}
	if err := s.store.PushBackupEvent(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("record backup event")
	}
	return &BackupResult{Path: path, Location: location, Timestamp: ts, Size: event.Size}, nil
}

func (s *BackupService) snapshot(ctx context.Context, ts time.Time) (*models.BackupBundle, error) {
	books, err := s.store.AllBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("read books: %w", err)
	}
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("read users: %w", err)
	}
	analytics, err := s.store.AllAnalytics(ctx)
	if err != nil {
		return nil, fmt.Errorf("read analytics: %w", err)
	}
	// Empty collections must still encode as arrays to pass ValidateBundle.
	if books == nil {
		books = []models.Book{}
	}
	if users == nil {
		users = []models.User{}
	}
	if analytics == nil {
		analytics = []models.Analytics{}
	}
	return &models.BackupBundle{
		Timestamp: ts,
		Books:     books,
		Users:     users,
		Analytics: analytics,
		Metadata: models.BackupMetadata{
			Version:    models.BackupFormatVersion,
			TotalBooks: len(books),
			TotalUsers: len(users),
		},
	}, nil
}

// recordFailure logs the failed attempt and mails the admin. It runs on a
// detached context so a cancelled request still leaves a trace.
func (s *BackupService) recordFailure(ctx context.Context, ts time.Time, cause error) {
	metrics.BackupsTotal.WithLabelValues(models.BackupFailed).Inc()
	logging.Ctx(ctx).Error().Err(cause).Msg("backup failed")

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	event := models.BackupEvent{Timestamp: ts, Status: models.BackupFailed, Error: cause.Error()}
	if err := s.store.PushBackupEvent(ctx, event); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("record failed backup event")
	}
	if s.notifier != nil {
		body := fmt.Sprintf("Backup started at %s failed:\n\n%v\n", ts.Format(time.RFC3339), cause)
		_ = s.notifier.Notify(ctx, "Book catalog backup failed", body)
	}
}

// RestoreFromBackup replaces all books, users and analytics with the contents
// of a bundle. locator is a file name in the backup dir or s3://<key>. The
// replacement is not transactional: a failure part way leaves earlier
// collections restored.
func (s *BackupService) RestoreFromBackup(ctx context.Context, locator string) (*RestoreResult, error) {
	data, err := s.read(ctx, locator)
	if err != nil {
		return nil, err
	}
	bundle, err := DecodeBundle(data, s.key)
	if err != nil {
		return nil, err
	}
	if err := s.store.ReplaceBooks(ctx, bundle.Books); err != nil {
		return nil, fmt.Errorf("restore books: %w", err)
	}
	if err := s.store.ReplaceUsers(ctx, bundle.Users); err != nil {
		return nil, fmt.Errorf("restore users: %w", err)
	}
	if err := s.store.ReplaceAnalytics(ctx, bundle.Analytics); err != nil {
		return nil, fmt.Errorf("restore analytics: %w", err)
	}
	logging.Ctx(ctx).Info().Str("locator", locator).Int("books", len(bundle.Books)).Int("users", len(bundle.Users)).
		Msg("backup restored")
	res := &RestoreResult{Timestamp: bundle.Timestamp, Metadata: bundle.Metadata}
	if s.index != nil {
		if err := s.index.ReindexAll(ctx, bundle.Books); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("reindex after restore")
		} else {
			res.Reindexed = true
		}
	}
	return res, nil
}

func (s *BackupService) read(ctx context.Context, locator string) ([]byte, error) {
	locator = strings.TrimSpace(locator)
	if key, ok := strings.CutPrefix(locator, s3Scheme); ok {
		if s.remote == nil {
			return nil, errors.New("no backup bucket configured")
		}
		if key == "" {
			return nil, ErrBackupLocator
		}
		body, err := s.remote.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("download backup: %w", err)
		}
		defer body.Close()
		return io.ReadAll(body)
	}
	path, err := s.localPath(locator)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// localPath resolves a bare file name, or dir/name as returned by
// CreateBackup, inside the backup dir. Anything else is rejected.
func (s *BackupService) localPath(locator string) (string, error) {
	name := filepath.ToSlash(locator)
	if prefix := filepath.ToSlash(filepath.Clean(s.dir)) + "/"; strings.HasPrefix(name, prefix) {
		name = strings.TrimPrefix(name, prefix)
	}
	if name == "" || name == "." || name == ".." || strings.Contains(name, "/") || strings.Contains(name, `\`) {
		return "", ErrBackupLocator
	}
	return filepath.Join(s.dir, name), nil
}

func (s *BackupService) ListBackups(ctx context.Context) ([]models.BackupEvent, error) {
	a, err := s.store.LoadAnalytics(ctx)
	if err != nil {
		return nil, err
	}
	if a.Backups == nil {
		return []models.BackupEvent{}, nil
	}
	return a.Backups, nil
}

// BackupFileName is backup-<ISO timestamp with ':' and '.' replaced by '-'>.json.gz.
func BackupFileName(ts time.Time) string {
	stamp := ts.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return "backup-" + stamp + ".json.gz"
}

// EncodeBundle serializes, gzips and, with a key, seals a bundle.
func EncodeBundle(b *models.BackupBundle, key []byte) ([]byte, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode backup: %w", err)
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	if key == nil {
		return buf.Bytes(), nil
	}
	return utils.Seal(buf.Bytes(), key)
}

// DecodeBundle reverses EncodeBundle and validates the result.
func DecodeBundle(data, key []byte) (*models.BackupBundle, error) {
	data, err := utils.Open(data, key)
	if err != nil {
		return nil, fmt.Errorf("%w: unseal: %v", models.ErrInvalidBackup, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidBackup, err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(io.LimitReader(zr, maxBundleBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidBackup, err)
	}
	if err := ValidateBundle(raw); err != nil {
		return nil, err
	}
	var b models.BackupBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidBackup, err)
	}
	return &b, nil
}

var requiredBundleFields = []string{"timestamp", "books", "users", "analytics", "metadata"}

// ValidateBundle checks that every top-level field is present and that the
// three record collections are arrays.
func ValidateBundle(raw []byte) error {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidBackup, err)
	}
	var missing []string
	for _, f := range requiredBundleFields {
		v, ok := top[f]
		if !ok || len(bytes.TrimSpace(v)) == 0 || string(bytes.TrimSpace(v)) == "null" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing fields: %s", models.ErrInvalidBackup, strings.Join(missing, ", "))
	}
	for _, f := range []string{"books", "users", "analytics"} {
		if bytes.TrimSpace(top[f])[0] != '[' {
			return fmt.Errorf("%w: %s is not an array", models.ErrInvalidBackup, f)
		}
	}
	return nil
}
