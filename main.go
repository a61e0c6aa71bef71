package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kevinaaaquil/bookcatalog/config"
	"github.com/kevinaaaquil/bookcatalog/handlers"
	"github.com/kevinaaaquil/bookcatalog/logging"
	"github.com/kevinaaaquil/bookcatalog/metrics"
	"github.com/kevinaaaquil/bookcatalog/service"
	"github.com/kevinaaaquil/bookcatalog/store"
	"github.com/kevinaaaquil/bookcatalog/supervisor"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	if err := cfg.Validate(); err != nil {
		logging.Fatal().Err(err).Msg("invalid config")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	handlers.ExposeErrorDetails(cfg.IsDevelopment())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.NewMongoDB(ctx, cfg.Mongo.URI, cfg.Mongo.DB)
	if err != nil {
		logging.Fatal().Err(err).Msg("connect mongodb")
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Disconnect(dctx); err != nil {
			logging.Warn().Err(err).Msg("mongodb disconnect")
		}
	}()
	if err := db.EnsureIndexes(ctx); err != nil {
		logging.Fatal().Err(err).Msg("ensure mongodb indexes")
	}

	app, err := newApp(ctx, cfg, db)
	if err != nil {
		logging.Fatal().Err(err).Msg("initialise services")
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           app.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	tree.AddAPIService(supervisor.NewHTTPService(server, 10*time.Second))
	tree.AddJob(supervisor.NewPeriodicJob("system-metrics", cfg.Metrics.Interval, false, app.collector.CollectSystem))
	tree.AddJob(supervisor.NewDailyJob("daily-rollup", service.UntilRollup, app.collector.Rollup))
	if cfg.Backup.Interval > 0 {
		tree.AddJob(supervisor.NewPeriodicJob("backup", cfg.Backup.Interval, false, func(ctx context.Context) error {
			_, err := app.backups.CreateBackup(ctx)
			return err
		}))
	}

	logging.Info().Str("port", cfg.Server.Port).Str("env", cfg.Server.Env).Msg("server starting")
	if err := tree.Serve(ctx); err != nil && ctx.Err() == nil {
		logging.Error().Err(err).Msg("supervisor stopped")
	}
	if report, err := tree.UnstoppedServiceReport(); err == nil && len(report) > 0 {
		logging.Warn().Int("count", len(report)).Msg("services did not stop in time")
	}
	logging.Info().Msg("server stopped")
}

// app holds the wired components shared by the router and the background jobs.
type app struct {
	cfg       *config.Config
	db        *store.DB
	covers    *service.S3Service // nil when AWS_S3_BUCKET is unset
	search    *service.SearchService
	metadata  *service.MetadataClient
	backups   *service.BackupService
	collector *service.Collector
	requests  *metrics.RequestCounter
}

func newApp(ctx context.Context, cfg *config.Config, db *store.DB) (*app, error) {
	a := &app{
		cfg:      cfg,
		db:       db,
		metadata: service.NewMetadataClient(cfg.Metadata.APIURL, cfg.Metadata.Timeout),
		requests: metrics.NewRequestCounter(),
	}

	var err error
	if cfg.Storage.Bucket != "" {
		a.covers, err = service.NewS3Service(ctx, s3Options(cfg, cfg.Storage.Bucket))
		if err != nil {
			return nil, err
		}
	} else {
		logging.Warn().Msg("AWS_S3_BUCKET not set; cover uploads are disabled")
	}

	if cfg.Search.URL != "" {
		a.search, err = service.NewSearchService(cfg.Search.URL, cfg.Search.Username, cfg.Search.Password, cfg.Search.Index)
		if err != nil {
			return nil, err
		}
		if err := a.search.EnsureIndex(ctx); err != nil {
			// Search degrades to 503s until the cluster is reachable.
			logging.Warn().Err(err).Msg("ensure search index")
		}
	} else {
		logging.Warn().Msg("ELASTICSEARCH_URL not set; index search is disabled")
	}

	var remote service.ObjectStore
	if cfg.Backup.Bucket != "" {
		bucket, err := service.NewS3Service(ctx, s3Options(cfg, cfg.Backup.Bucket))
		if err != nil {
			return nil, err
		}
		remote = bucket
	}
	var notifier service.Notifier
	if cfg.MailEnabled() {
		notifier = service.NewMailer(cfg.Mail.Host, cfg.Mail.Port, cfg.Mail.Username, cfg.Mail.Password, cfg.Mail.From, cfg.Mail.AdminEmail)
	}
	key, err := cfg.BackupKey()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Backup.Dir, 0o700); err != nil {
		return nil, err
	}
	a.backups = service.NewBackupService(db, remote, notifier, cfg.Backup.Dir, key)
	if a.search != nil {
		a.backups.WithSearchIndex(a.search)
	}
	a.collector = service.NewCollector(db, service.GopsutilProbe{}, a.requests)
	return a, nil
}

// s3Options shares the storage credentials between the cover and backup buckets.
func s3Options(cfg *config.Config, bucket string) service.S3Options {
	return service.S3Options{
		Bucket:          bucket,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		Endpoint:        cfg.Storage.Endpoint,
	}
}
