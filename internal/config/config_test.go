package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServicePort)
	assert.Equal(t, 3, cfg.MaxFiles)
	assert.Equal(t, 300*time.Second, cfg.MaxRequestDuration)
	assert.Equal(t, 5*time.Minute, cfg.ArtifactTTL)
	assert.Equal(t, 10, cfg.RateLimitRequests)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, BlobBackendFilesystem, cfg.BlobBackend)
	assert.NotEmpty(t, cfg.TempDir)
	assert.Equal(t, "localhost:6379", cfg.GetRedisAddr())
	assert.Equal(t, int64(100*1024*1024), cfg.GetMaxUploadBytes())
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("SERVICE_PORT", "9090")
	t.Setenv("ARTIFACT_TTL", "90s")
	t.Setenv("RATE_LIMIT_REQUESTS", "4")
	t.Setenv("BLOB_BACKEND", "minio")
	t.Setenv("TEMP_DIR", "/var/tmp/squeeze")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.ServicePort)
	assert.Equal(t, 90*time.Second, cfg.ArtifactTTL)
	assert.Equal(t, 4, cfg.RateLimitRequests)
	assert.Equal(t, BlobBackendMinIO, cfg.BlobBackend)
	assert.Equal(t, "/var/tmp/squeeze", cfg.TempDir)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "zero files", key: "MAX_FILES", value: "0"},
		{name: "unknown backend", key: "BLOB_BACKEND", value: "s3"},
		{name: "quality out of range", key: "IMAGE_QUALITY", value: "101"},
		{name: "negative ttl", key: "ARTIFACT_TTL", value: "-1s"},
		{name: "unparseable duration", key: "RATE_LIMIT_WINDOW", value: "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{
		TiDBUser:     "app",
		TiDBPassword: "secret",
		TiDBHost:     "db",
		TiDBPort:     "4000",
		TiDBDatabase: "pdfs",
	}
	assert.Equal(t, "app:secret@tcp(db:4000)/pdfs?charset=utf8mb4&parseTime=True&loc=UTC", cfg.GetDSN())

	cfg.DatabaseDSN = "override"
	assert.Equal(t, "override", cfg.GetDSN())
}
