package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names an optional YAML file layered between defaults and env.
const ConfigPathEnvVar = "CONFIG_PATH"

// minJWTSecretLen applies outside development.
const minJWTSecretLen = 32

var defaultConfigPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Mongo    MongoConfig    `koanf:"mongo"`
	Auth     AuthConfig     `koanf:"auth"`
	Storage  StorageConfig  `koanf:"storage"`
	Backup   BackupConfig   `koanf:"backup"`
	Search   SearchConfig   `koanf:"search"`
	Metadata MetadataConfig `koanf:"metadata"`
	Mail     MailConfig     `koanf:"mail"`
	Log      LogConfig      `koanf:"log"`
	Metrics  MetricsConfig  `koanf:"metrics"`
}

type ServerConfig struct {
	Port           string   `koanf:"port"`
	Env            string   `koanf:"env"`
	AllowedOrigins []string `koanf:"allowed_origins"`
	MaxUploadMB    int64    `koanf:"max_upload_mb"`
}

type MongoConfig struct {
	URI string `koanf:"uri"`
	DB  string `koanf:"db"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

// StorageConfig is the S3 bucket holding cover images.
type StorageConfig struct {
	Region          string `koanf:"region"`
	AccessKeyID     string `koanf:"access_key_id"`
	SecretAccessKey string `koanf:"secret_access_key"`
	Bucket          string `koanf:"bucket"`
	// Endpoint points at an S3-compatible store instead of AWS.
	Endpoint string `koanf:"endpoint"`
}

type BackupConfig struct {
	Dir      string        `koanf:"dir"`
	Bucket   string        `koanf:"bucket"`
	Interval time.Duration `koanf:"interval"`
	// EncryptionKey is base64 of 32 bytes; empty leaves bundles unsealed.
	EncryptionKey string `koanf:"encryption_key"`
}

type SearchConfig struct {
	URL      string `koanf:"url"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	Index    string `koanf:"index"`
}

type MetadataConfig struct {
	APIURL  string        `koanf:"api_url"`
	Timeout time.Duration `koanf:"timeout"`
}

type MailConfig struct {
	Host       string `koanf:"host"`
	Port       int    `koanf:"port"`
	Username   string `koanf:"username"`
	Password   string `koanf:"password"`
	From       string `koanf:"from"`
	AdminEmail string `koanf:"admin_email"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

type MetricsConfig struct {
	Interval time.Duration `koanf:"interval"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "5000",
			Env:            "production",
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxUploadMB:    5,
		},
		Mongo: MongoConfig{
			URI: "mongodb://localhost:27017",
			DB:  "bookcatalog",
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour * 7,
		},
		Storage: StorageConfig{Region: "us-east-1"},
		Backup:  BackupConfig{Dir: "backups"},
		Search:  SearchConfig{Index: "books"},
		Metadata: MetadataConfig{
			APIURL:  "https://www.googleapis.com/books/v1",
			Timeout: 15 * time.Second,
		},
		Mail:    MailConfig{Port: 587},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Interval: 5 * time.Minute},
	}
}

// Load reads .env (if present) and then layers defaults, an optional YAML
// file and the process environment, in that order of precedence.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range defaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// envMappings keeps the flat variable names used by existing deployments.
var envMappings = map[string]string{
	"port":                   "server.port",
	"app_env":                "server.env",
	"allowed_origins":        "server.allowed_origins",
	"max_upload_mb":          "server.max_upload_mb",
	"mongodb_uri":            "mongo.uri",
	"mongodb_db":             "mongo.db",
	"jwt_secret":             "auth.jwt_secret",
	"token_ttl":              "auth.token_ttl",
	"aws_region":             "storage.region",
	"aws_access_key_id":      "storage.access_key_id",
	"aws_secret_access_key":  "storage.secret_access_key",
	"aws_s3_bucket":          "storage.bucket",
	"aws_s3_endpoint":        "storage.endpoint",
	"aws_backup_bucket":      "backup.bucket",
	"backup_dir":             "backup.dir",
	"backup_interval":        "backup.interval",
	"backup_encryption_key":  "backup.encryption_key",
	"elasticsearch_url":      "search.url",
	"elasticsearch_username": "search.username",
	"elasticsearch_password": "search.password",
	"elasticsearch_index":    "search.index",
	"metadata_api_url":       "metadata.api_url",
	"metadata_timeout":       "metadata.timeout",
	"smtp_host":              "mail.host",
	"smtp_port":              "mail.port",
	"smtp_username":          "mail.username",
	"smtp_password":          "mail.password",
	"mail_from":              "mail.from",
	"admin_email":            "mail.admin_email",
	"log_level":              "log.level",
	"log_format":             "log.format",
	"metrics_interval":       "metrics.interval",
}

// envTransformFunc maps an environment variable name to its koanf path.
// Unknown variables map to "" and are dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

var listPaths = []string{"server.allowed_origins"}

func splitListFields(k *koanf.Koanf) error {
	for _, path := range listPaths {
		s, ok := k.Get(path).(string)
		if !ok || s == "" {
			continue
		}
		var items []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				items = append(items, p)
			}
		}
		if err := k.Set(path, items); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// IsDevelopment reports whether error details may be returned to clients.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Server.Env, "development")
}

// MaxUploadBytes is the request body cap for image uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB * 1024 * 1024
}

// BackupKey decodes the backup sealing key. It returns nil when sealing is off.
func (c *Config) BackupKey() ([]byte, error) {
	if c.Backup.EncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Backup.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("backup encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("backup encryption key must be 32 bytes (got %d); generate with: openssl rand -base64 32", len(key))
	}
	return key, nil
}

// MailEnabled reports whether enough SMTP settings are present to send mail.
func (c *Config) MailEnabled() bool {
	return c.Mail.Host != "" && c.Mail.From != "" && c.Mail.AdminEmail != ""
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Mongo.URI) == "" {
		errs = append(errs, errors.New("MONGODB_URI is required"))
	}
	if strings.TrimSpace(c.Mongo.DB) == "" {
		errs = append(errs, errors.New("MONGODB_DB is required"))
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	} else if !c.IsDevelopment() && len(c.Auth.JWTSecret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("JWT_SECRET must be at least %d characters outside development", minJWTSecretLen))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("TOKEN_TTL must be positive"))
	}
	if n, err := strconv.Atoi(c.Server.Port); err != nil || n <= 0 || n > 65535 {
		errs = append(errs, fmt.Errorf("PORT %q is not a valid port", c.Server.Port))
	}
	if c.Server.MaxUploadMB <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_MB must be positive"))
	}
	if c.Backup.Interval < 0 {
		errs = append(errs, errors.New("BACKUP_INTERVAL must not be negative"))
	}
	if _, err := c.BackupKey(); err != nil {
		errs = append(errs, err)
	}
	if c.Search.URL != "" {
		if _, err := url.ParseRequestURI(c.Search.URL); err != nil {
			errs = append(errs, fmt.Errorf("ELASTICSEARCH_URL: %w", err))
		}
	}
	if c.Storage.Endpoint != "" {
		if _, err := url.ParseRequestURI(c.Storage.Endpoint); err != nil {
			errs = append(errs, fmt.Errorf("AWS_S3_ENDPOINT: %w", err))
		}
	}
	if c.Metrics.Interval <= 0 {
		errs = append(errs, errors.New("METRICS_INTERVAL must be positive"))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be json or console", c.Log.Format))
	}
	return errors.Join(errs...)
}
