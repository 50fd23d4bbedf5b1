package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
)

// Blob backends
const (
	BlobBackendFilesystem = "fs"
	BlobBackendMinIO      = "minio"
)

// Config holds all application configuration
type Config struct {
	// Service configuration
	ServicePort        string        `env:"SERVICE_PORT,default=8080"`
	ServiceName        string        `env:"SERVICE_NAME,default=pdfsqueeze"`
	LogLevel           string        `env:"LOG_LEVEL,default=info"`
	LogFormat          string        `env:"LOG_FORMAT,default=text"`
	MaxFiles           int           `env:"MAX_FILES,default=3"`
	MaxUploadMB        int           `env:"MAX_UPLOAD_MB,default=100"`
	MaxRequestDuration time.Duration `env:"MAX_REQUEST_DURATION,default=300s"`
	TrustProxy         bool          `env:"TRUST_PROXY,default=false"`

	// Artifact lifetime
	ArtifactTTL   time.Duration `env:"ARTIFACT_TTL,default=5m"`
	SweepInterval time.Duration `env:"SWEEP_INTERVAL,default=30s"`

	// Compression tuning
	ImageQuality      int `env:"IMAGE_QUALITY,default=75"`
	MaxImageDimension int `env:"MAX_IMAGE_DIMENSION,default=2000"`

	// Blob storage: "fs" keeps artifacts under TempDir, "minio" in a bucket
	BlobBackend string `env:"BLOB_BACKEND,default=fs"`
	TempDir     string `env:"TEMP_DIR"`

	// MinIO configuration
	MinIOEndpoint   string `env:"MINIO_ENDPOINT,default=localhost:9000"`
	MinIOAccessKey  string `env:"MINIO_ACCESS_KEY,default=minioadmin"`
	MinIOSecretKey  string `env:"MINIO_SECRET_KEY,default=minioadmin"`
	MinIOBucketName string `env:"MINIO_BUCKET_NAME,default=pdfsqueeze"`
	MinIOUseSSL     bool   `env:"MINIO_USE_SSL,default=false"`

	// TiDB / MySQL configuration. DatabaseDSN wins when set.
	DatabaseDSN  string `env:"DATABASE_DSN"`
	TiDBHost     string `env:"TIDB_HOST,default=localhost"`
	TiDBPort     string `env:"TIDB_PORT,default=4000"`
	TiDBUser     string `env:"TIDB_USER,default=root"`
	TiDBPassword string `env:"TIDB_PASSWORD"`
	TiDBDatabase string `env:"TIDB_DATABASE,default=pdfsqueeze"`

	// Redis configuration
	RedisHost     string `env:"REDIS_HOST,default=localhost"`
	RedisPort     string `env:"REDIS_PORT,default=6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	// Rate limiting
	RateLimitRequests int           `env:"RATE_LIMIT_REQUESTS,default=10"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=1m"`

	// Jaeger configuration
	TracingEnabled bool   `env:"TRACING_ENABLED,default=true"`
	JaegerEndpoint string `env:"JAEGER_ENDPOINT,default=localhost:4318"`
}

// LoadConfig loads configuration from an optional .env file and the environment
func LoadConfig() (*Config, error) {
	// A missing .env is the normal case in containers.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "pdfsqueeze")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	switch {
	case c.MaxFiles < 1:
		return fmt.Errorf("MAX_FILES must be at least 1, got %d", c.MaxFiles)
	case c.MaxUploadMB < 1:
		return fmt.Errorf("MAX_UPLOAD_MB must be at least 1, got %d", c.MaxUploadMB)
	case c.MaxRequestDuration <= 0:
		return fmt.Errorf("MAX_REQUEST_DURATION must be positive")
	case c.ArtifactTTL <= 0:
		return fmt.Errorf("ARTIFACT_TTL must be positive")
	case c.SweepInterval <= 0:
		return fmt.Errorf("SWEEP_INTERVAL must be positive")
	case c.RateLimitRequests < 1:
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1, got %d", c.RateLimitRequests)
	case c.RateLimitWindow <= 0:
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	case c.ImageQuality < 1 || c.ImageQuality > 100:
		return fmt.Errorf("IMAGE_QUALITY must be within 1..100, got %d", c.ImageQuality)
	}

	if c.BlobBackend != BlobBackendFilesystem && c.BlobBackend != BlobBackendMinIO {
		return fmt.Errorf("BLOB_BACKEND must be %q or %q, got %q", BlobBackendFilesystem, BlobBackendMinIO, c.BlobBackend)
	}
	return nil
}

// GetDSN returns the TiDB connection string
func (c *Config) GetDSN() string {
	if c.DatabaseDSN != "" {
		return c.DatabaseDSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.TiDBUser,
		c.TiDBPassword,
		c.TiDBHost,
		c.TiDBPort,
		c.TiDBDatabase,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// GetMaxUploadBytes returns the multipart body limit in bytes
func (c *Config) GetMaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}
