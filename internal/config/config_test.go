package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Setenv("DOCVAULT_DATABASE_HOST", "db.internal")
	t.Setenv("DOCVAULT_DATABASE_USER", "docvault")
	t.Setenv("DOCVAULT_S3_REGION", "eu-central-1")
	t.Setenv("DOCVAULT_S3_BUCKET", "marketplace-docs")
	t.Setenv("DOCVAULT_S3_ACCESS_KEY_ID", "key")
	t.Setenv("DOCVAULT_S3_SECRET_ACCESS_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "2525", cfg.Server.Port)
	assert.Equal(t, "50051", cfg.Server.GRPCPort)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 8, cfg.Upload.Workers)
	assert.Equal(t, 50, cfg.Upload.MaxBulkFiles)
	assert.Equal(t, time.Hour, cfg.Upload.SignedURLTTL)
	assert.Equal(t, 30*time.Second, cfg.S3.RequestTimeout)
	assert.False(t, cfg.Sharing.Enforce)
	assert.Equal(t, "@every 1h", cfg.Cleanup.Schedule)
	assert.Equal(t, "marketplace-docs", cfg.S3.Bucket)
	assert.Equal(t,
		"host=db.internal port=5432 user=docvault password= dbname=docvault sslmode=disable",
		cfg.Database.GetDSN())
}

func TestLoadOverridesFromEnv(t *testing.T) {
	setRequired(t)
	t.Setenv("DOCVAULT_UPLOAD_WORKERS", "3")
	t.Setenv("DOCVAULT_UPLOAD_SIGNED_URL_TTL", "15m")
	t.Setenv("DOCVAULT_SHARING_ENFORCE", "true")
	t.Setenv("DOCVAULT_DATABASE_DRIVER", "sqlite")
	t.Setenv("DOCVAULT_DATABASE_PATH", "/tmp/docvault.db")

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Upload.Workers)
	assert.Equal(t, 15*time.Minute, cfg.Upload.SignedURLTTL)
	assert.True(t, cfg.Sharing.Enforce)
	assert.Equal(t, "/tmp/docvault.db", cfg.Database.GetDSN())
}

func TestLoadRequiresS3Credentials(t *testing.T) {
	setRequired(t)
	t.Setenv("DOCVAULT_S3_SECRET_ACCESS_KEY", "")

	_, err := Load(NewViper())
	assert.Error(t, err)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string][2]string{
		"driver":  {"DOCVAULT_DATABASE_DRIVER", "mysql"},
		"workers": {"DOCVAULT_UPLOAD_WORKERS", "0"},
		"ttl":     {"DOCVAULT_UPLOAD_SIGNED_URL_TTL", "0s"},
		"bulk":    {"DOCVAULT_UPLOAD_MAX_BULK_FILES", "0"},
		"burst":   {"DOCVAULT_RATELIMIT_BURST", "-1"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(env[0], env[1])

			_, err := Load(NewViper())
			assert.Error(t, err)
		})
	}
}

func TestLoadDatabaseIgnoresS3(t *testing.T) {
	t.Setenv("DOCVAULT_DATABASE_DRIVER", "SQLite")
	t.Setenv("DOCVAULT_DATABASE_PATH", "/var/lib/docvault/docs.db")

	db, err := LoadDatabase(NewViper())
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, db.Driver)
	assert.Equal(t, "/var/lib/docvault/docs.db", db.GetDSN())

	t.Setenv("DOCVAULT_DATABASE_DRIVER", "mysql")
	_, err = LoadDatabase(NewViper())
	assert.Error(t, err)
}
