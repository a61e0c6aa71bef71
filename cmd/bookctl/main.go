// Command bookctl is the operator tool for a book catalog deployment.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/crypto/bcrypt"

	"github.com/kevinaaaquil/bookcatalog/config"
	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/models"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
)

const passwordEnvVar = "BOOKCTL_PASSWORD"

type adminStore interface {
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) (primitive.ObjectID, error)
	UpdateUser(ctx context.Context, id primitive.ObjectID, upd store.UserUpdate) (*models.User, error)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bookctl",
		Short:        "Administer a book catalog deployment",
		SilenceUsage: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.Init(logging.Config{Level: "info", Format: "console"})
		},
	}
	root.AddCommand(newCreateAdminCmd(), newResetPasswordCmd(), newEnsureIndexesCmd(), newReindexCmd())
	root.SetErrPrefix("bookctl:")
	return root
}

func newCreateAdminCmd() *cobra.Command {
	var email, name, password string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an admin account, or promote an existing one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, db *store.DB, _ *config.Config) error {
				created, err := createAdmin(ctx, db, email, name, passwordOrEnv(password))
				if err != nil {
					return err
				}
				if created {
					logging.Info().Str("email", email).Msg("admin created")
				} else {
					logging.Info().Str("email", email).Msg("existing account promoted to admin")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&name, "name", "Administrator", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password; defaults to $"+passwordEnvVar)
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newResetPasswordCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Set a new password for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, db *store.DB, _ *config.Config) error {
				if err := resetPassword(ctx, db, email, passwordOrEnv(password)); err != nil {
					return err
				}
				logging.Info().Str("email", email).Msg("password reset")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (required)")
	cmd.Flags().StringVar(&password, "password", "", "new password; defaults to $"+passwordEnvVar)
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newEnsureIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the MongoDB indexes and the search index mapping",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, db *store.DB, cfg *config.Config) error {
				if err := db.EnsureIndexes(ctx); err != nil {
					return fmt.Errorf("mongodb indexes: %w", err)
				}
				logging.Info().Msg("mongodb indexes ensured")
				if cfg.Search.URL == "" {
					return nil
				}
				es, err := service.NewSearchService(cfg.Search.URL, cfg.Search.Username, cfg.Search.Password, cfg.Search.Index)
				if err != nil {
					return err
				}
				if err := es.EnsureIndex(ctx); err != nil {
					return fmt.Errorf("search index: %w", err)
				}
				logging.Info().Str("index", cfg.Search.Index).Msg("search index ensured")
				return nil
			})
		},
	}
}

func newReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the search index from MongoDB",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), func(ctx context.Context, db *store.DB, cfg *config.Config) error {
				if cfg.Search.URL == "" {
					return errors.New("ELASTICSEARCH_URL is not set")
				}
				es, err := service.NewSearchService(cfg.Search.URL, cfg.Search.Username, cfg.Search.Password, cfg.Search.Index)
				if err != nil {
					return err
				}
				books, err := db.AllBooks(ctx)
				if err != nil {
					return err
				}
				if err := es.ReindexAll(ctx, books); err != nil {
					return err
				}
				logging.Info().Int("books", len(books)).Str("index", cfg.Search.Index).Msg("search index rebuilt")
				return nil
			})
		},
	}
}

func withStore(parent context.Context, fn func(ctx context.Context, db *store.DB, cfg *config.Config) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, time.Minute)
	defer cancel()

	db, err := store.NewMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DB)
	if err != nil {
		return err
	}
	defer func() { _ = db.Disconnect(context.Background()) }()
	return fn(ctx, db, cfg)
}

func passwordOrEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnvVar)
}

func hashPassword(password string) (string, error) {
	if len(password) < 6 || len(password) > 72 {
		return "", errors.New("password must be 6 to 72 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// createAdmin reports false when the email already existed and was promoted
// (and given the new password) instead.
func createAdmin(ctx context.Context, db adminStore, email, name, password string) (bool, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	existing, err := db.UserByEmail(ctx, email)
	switch {
	case err == nil:
		role := models.RoleAdmin
		_, err := db.UpdateUser(ctx, existing.ID, store.UserUpdate{Role: &role, Password: &hash})
		return false, err
	case !errors.Is(err, store.ErrNotFound):
		return false, err
	}
	_, err = db.CreateUser(ctx, &models.User{
		Name:      name,
		Email:     email,
		Password:  hash,
		Role:      models.RoleAdmin,
		CreatedAt: time.Now().UTC(),
	})
	return err == nil, err
}

func resetPassword(ctx context.Context, db adminStore, email, password string) error {
	hash, err := hashPassword(password)
	if err != nil {
		return err
	}
	user, err := db.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("no account with email %s", email)
		}
		return err
	}
	_, err = db.UpdateUser(ctx, user.ID, store.UserUpdate{Password: &hash})
	return err
}
