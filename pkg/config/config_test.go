package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// TestParse_Defaults verifies the service boots with local backends and no
// variables set.
func TestParse_Defaults(t *testing.T) {
	cfg, err := config.Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
	assert.Equal(t, "commercial-mva", cfg.Funnel.Default)
	assert.Equal(t, 30*time.Minute, cfg.Funnel.SessionTTL)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Gateway.CertificationWait)
	assert.Equal(t, 64, cfg.Gateway.MaxInFlight)
	assert.True(t, cfg.Ingest.Enabled)
	assert.Equal(t, "fs", cfg.Ingest.ObjectBackend)
	assert.Equal(t, config.IndexSQLite, cfg.Ingest.IndexBackend)
	assert.Equal(t, "unified-leads-prod", cfg.Ingest.DynamoTable)
	assert.Equal(t, "company-leads-prod", cfg.Ingest.Bucket)
	assert.Equal(t, 24*time.Hour, cfg.Ingest.DedupeWindow)
	assert.False(t, cfg.Ingest.VerifyTrustedForms)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "data/leads.db", cfg.SQLiteDSN())
	assert.Equal(t, "file://data/leads/", cfg.ObjectURIPrefix())
}

// TestParse_Overrides verifies environment variables override defaults.
func TestParse_Overrides(t *testing.T) {
	cfg, err := config.Parse(map[string]string{
		"PORT":                   "127.0.0.1:9090",
		"LOG_LEVEL":              "debug",
		"OBJECT_STORAGE_BACKEND": "s3",
		"LEADS_BUCKET":           "leads-staging",
		"OBJECT_PREFIX":          "v2/",
		"LEAD_INDEX_BACKEND":     "postgres",
		"DATABASE_URL":           "postgres://funnel@db:5432/funnel",
		"VERIFY_TRUSTED_FORMS":   "true",
		"TRUSTED_FORMS_API_KEY":  "tf",
		"SESSION_TTL":            "10m",
		"RATE_LIMIT_RPS":         "2.5",
		"SNS_TOPIC_ARN":          "arn:aws:sns:us-east-1:1:leads",
	})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9090", cfg.Addr())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, 10*time.Minute, cfg.Funnel.SessionTTL)
	assert.InDelta(t, 2.5, cfg.Funnel.RateLimitRPS, 0.001)
	assert.True(t, cfg.Ingest.VerifyTrustedForms)
	assert.Equal(t, "tf", cfg.Ingest.TrustedFormAPIKey)
	assert.Equal(t, "s3://leads-staging/v2/", cfg.ObjectURIPrefix())

	objects := cfg.ObjectStore()
	assert.Equal(t, store.BackendS3, objects.Backend)
	assert.Equal(t, "leads-staging", objects.S3Bucket)
	assert.Equal(t, "v2/", objects.S3Prefix)
	assert.Equal(t, "us-east-1", objects.S3Region)
}

func TestParse_LegacyTrustedFormKey(t *testing.T) {
	cfg, err := config.Parse(map[string]string{"TRUSTED_FORM_API_KEY": "old"})
	require.NoError(t, err)
	assert.Equal(t, "old", cfg.Ingest.TrustedFormAPIKey)

	cfg, err = config.Parse(map[string]string{"TRUSTED_FORM_API_KEY": "old", "TRUSTED_FORMS_API_KEY": "new"})
	require.NoError(t, err)
	assert.Equal(t, "new", cfg.Ingest.TrustedFormAPIKey)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"object backend":    {"OBJECT_STORAGE_BACKEND": "ftp"},
		"index backend":     {"LEAD_INDEX_BACKEND": "mongo"},
		"postgres no dsn":   {"LEAD_INDEX_BACKEND": "postgres"},
		"zero rate":         {"RATE_LIMIT_RPS": "0"},
		"negative ttl":      {"SESSION_TTL": "-1m"},
		"malformed timeout": {"DELIVERY_TIMEOUT": "soon"},
	}
	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Parse(vars)
			assert.Error(t, err)
		})
	}
}

func TestSlogLevel_Unknown(t *testing.T) {
	cfg := &config.Config{LogLevel: "chatty"}
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_ReadsProcessEnvironment(t *testing.T) {
	t.Setenv("DEFAULT_FUNNEL", "commercial-mva-v2")
	t.Setenv("LEAD_INGEST_URL", "https://ingest.example.com/leads")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "commercial-mva-v2", cfg.Funnel.Default)
	assert.Equal(t, "https://ingest.example.com/leads", cfg.Gateway.LeadsURL)
}
