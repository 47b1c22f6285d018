// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// Index backends.
const (
	IndexSQLite   = "sqlite"
	IndexPostgres = "postgres"
	IndexDynamoDB = "dynamodb"
	IndexNone     = "none"
)

// Config holds server configuration.
type Config struct {
	Port     string `env:"PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"INFO"`
	DataDir  string `env:"DATA_DIR" envDefault:"data"`

	Funnel    FunnelConfig
	Gateway   GatewayConfig
	Ingest    IngestConfig
	Telemetry TelemetryConfig
}

// FunnelConfig controls the form sessions served over HTTP.
type FunnelConfig struct {
	// Dir holds extra funnel definitions (*.yaml) loaded over the built-ins.
	Dir           string        `env:"FUNNEL_DIR"`
	Default       string        `env:"DEFAULT_FUNNEL" envDefault:"commercial-mva"`
	SessionTTL    time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	SessionSecret string        `env:"SESSION_SECRET"`
	AllowOrigin   string        `env:"CORS_ALLOW_ORIGIN" envDefault:"*"`
	RateLimitRPS  float64       `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateBurst     int           `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// GatewayConfig controls delivery to the ingestion service.
type GatewayConfig struct {
	// LeadsURL defaults to this process's own ingestion endpoint when
	// ingestion is enabled.
	LeadsURL          string        `env:"LEAD_INGEST_URL"`
	PartialsURL       string        `env:"EARLY_LEAD_INGEST_URL"`
	APIKey            string        `env:"LEAD_API_KEY"`
	Timeout           time.Duration `env:"DELIVERY_TIMEOUT" envDefault:"5s"`
	MaxInFlight       int           `env:"DELIVERY_MAX_IN_FLIGHT" envDefault:"64"`
	CertificationWait time.Duration `env:"CERTIFICATION_WAIT" envDefault:"3s"`
}

// IngestConfig controls the ingestion service and its backends.
type IngestConfig struct {
	Enabled bool `env:"INGEST_ENABLED" envDefault:"true"`

	ObjectBackend string `env:"OBJECT_STORAGE_BACKEND" envDefault:"fs"`
	Bucket        string `env:"LEADS_BUCKET" envDefault:"company-leads-prod"`
	GCSBucket     string `env:"LEADS_GCS_BUCKET"`
	ObjectPrefix  string `env:"OBJECT_PREFIX"`
	Region        string `env:"AWS_REGION" envDefault:"us-east-1"`
	S3Endpoint    string `env:"S3_ENDPOINT"`

	IndexBackend string `env:"LEAD_INDEX_BACKEND" envDefault:"sqlite"`
	DatabaseURL  string `env:"DATABASE_URL"`
	SQLitePath   string `env:"SQLITE_PATH"`
	DynamoTable  string `env:"DYNAMODB_TABLE" envDefault:"unified-leads-prod"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	RedisChannel  string        `env:"REDIS_NOTIFY_CHANNEL"`
	DedupeWindow  time.Duration `env:"DEDUPE_WINDOW" envDefault:"24h"`

	SNSTopicARN  string `env:"SNS_TOPIC_ARN"`
	SlackToken   string `env:"SLACK_BOT_TOKEN"`
	SlackChannel string `env:"SLACK_CHANNEL"`

	VerifyTrustedForms bool   `env:"VERIFY_TRUSTED_FORMS"`
	TrustedFormAPIKey  string `env:"TRUSTED_FORMS_API_KEY"`
	// Older deployments spell it without the S.
	LegacyTrustedFormAPIKey string `env:"TRUSTED_FORM_API_KEY"`

	// APIKey, when set, is required as x-api-key on ingestion requests.
	APIKey string `env:"INGEST_API_KEY"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled     bool   `env:"OTEL_ENABLED"`
	Endpoint    string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"commercial-mva-funnel"`
	Environment string `env:"DEPLOY_ENV" envDefault:"development"`
}

// Load reads configuration from the process environment.
func Load() (*Config, error) {
	return parse(env.Options{})
}

// Parse reads configuration from the given variables only.
func Parse(vars map[string]string) (*Config, error) {
	return parse(env.Options{Environment: vars})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Ingest.TrustedFormAPIKey == "" {
		cfg.Ingest.TrustedFormAPIKey = cfg.Ingest.LegacyTrustedFormAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	switch store.Backend(c.Ingest.ObjectBackend) {
	case store.BackendFS, store.BackendS3, store.BackendGCS:
	default:
		return fmt.Errorf("unsupported OBJECT_STORAGE_BACKEND %q", c.Ingest.ObjectBackend)
	}
	switch c.Ingest.IndexBackend {
	case IndexSQLite, IndexDynamoDB, IndexNone:
	case IndexPostgres:
		if c.Ingest.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres index")
		}
	default:
		return fmt.Errorf("unsupported LEAD_INDEX_BACKEND %q", c.Ingest.IndexBackend)
	}
	if c.Funnel.RateLimitRPS <= 0 || c.Funnel.RateBurst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.Funnel.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	if strings.Contains(c.Port, ":") {
		return c.Port
	}
	return ":" + c.Port
}

// SlogLevel maps LOG_LEVEL to a slog level. Unknown names mean INFO.
func (c *Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

// ObjectStore returns the object store settings.
func (c *Config) ObjectStore() store.ObjectStoreConfig {
	return store.ObjectStoreConfig{
		Backend:    store.Backend(c.Ingest.ObjectBackend),
		DataDir:    c.DataDir,
		S3Bucket:   c.Ingest.Bucket,
		S3Region:   c.Ingest.Region,
		S3Endpoint: c.Ingest.S3Endpoint,
		S3Prefix:   c.Ingest.ObjectPrefix,
		GCSBucket:  c.Ingest.GCSBucket,
		GCSPrefix:  c.Ingest.ObjectPrefix,
	}
}

// ObjectURIPrefix is prepended to object keys in staff notifications.
func (c *Config) ObjectURIPrefix() string {
	switch store.Backend(c.Ingest.ObjectBackend) {
	case store.BackendS3:
		return "s3://" + c.Ingest.Bucket + "/" + c.Ingest.ObjectPrefix
	case store.BackendGCS:
		return "gs://" + c.Ingest.GCSBucket + "/" + c.Ingest.ObjectPrefix
	}
	return "file://" + filepath.ToSlash(filepath.Join(c.DataDir, "leads")) + "/"
}

// SQLiteDSN is the lite-mode index database.
func (c *Config) SQLiteDSN() string {
	if c.Ingest.SQLitePath != "" {
		return c.Ingest.SQLitePath
	}
	return filepath.Join(c.DataDir, "leads.db")
}

// EnsureDataDir creates DATA_DIR when a local backend needs it.
func (c *Config) EnsureDataDir() error {
	if c.Ingest.ObjectBackend != string(store.BackendFS) && c.Ingest.IndexBackend != IndexSQLite {
		return nil
	}
	//nolint:gosec // G301: shared data directory
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
