// Package config provides application configuration through environment variables.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/allisson/go-env"
	"github.com/joho/godotenv"
)

// Supported values for Config.StorageBackend.
const (
	StorageBackendSQL  = "sql"
	StorageBackendBlob = "blob"
)

// Config holds all application configuration.
type Config struct {
	// ServerHost is the host address the server will bind to.
	ServerHost string
	// ServerPort is the port number the server will listen on.
	ServerPort int

	// StorageBackend selects where entries and keys are persisted: "sql" or "blob".
	StorageBackend string

	// DBDriver is the database driver to use ("sqlite", "postgres" or "mysql").
	DBDriver string
	// DBConnectionString is the connection string for the database, or the file path for sqlite.
	DBConnectionString string
	// DBMaxOpenConnections is the maximum number of open connections to the database.
	DBMaxOpenConnections int
	// DBMaxIdleConnections is the maximum number of idle connections in the database pool.
	DBMaxIdleConnections int
	// DBConnMaxLifetime is the maximum amount of time a connection may be reused.
	DBConnMaxLifetime time.Duration

	// BlobBucketURL is the gocloud.dev bucket URL used by the blob backend.
	BlobBucketURL string

	// LogLevel is the logging level (e.g., "debug", "info", "warn", "error").
	LogLevel string

	// MasterKeys is a comma-separated list of "id:base64key" pairs.
	MasterKeys string
	// ActiveMasterKeyID selects the master key that wraps new entry keys.
	ActiveMasterKeyID string
	// KMSProvider is the KMS provider to use (e.g., "google", "aws", "azure").
	KMSProvider string
	// KMSKeyURI is the URI for the master key in the KMS.
	KMSKeyURI string
	// KeyAlgorithm is the AEAD algorithm for new entry keys ("aes-gcm" or "chacha20-poly1305").
	KeyAlgorithm string

	// UnlockTokenHash is the Argon2id hash of the unlock token. Empty disables the unlock gate.
	UnlockTokenHash string

	// RateLimitEnabled indicates whether per-IP rate limiting is enabled.
	RateLimitEnabled bool
	// RateLimitRequestsPerSec is the number of requests allowed per second per IP.
	RateLimitRequestsPerSec float64
	// RateLimitBurst is the burst size per IP.
	RateLimitBurst int

	// CORSEnabled indicates whether CORS is enabled.
	CORSEnabled bool
	// CORSAllowOrigins is a comma-separated list of allowed origins for CORS.
	CORSAllowOrigins string

	// MetricsEnabled indicates whether metrics collection is enabled.
	MetricsEnabled bool
	// MetricsNamespace is the namespace for the application metrics.
	MetricsNamespace string
	// MetricsPort is the port number for the metrics server.
	MetricsPort int

	// ReconcileEnabled starts the orphan key reconciler with the server.
	ReconcileEnabled bool
	// ReconcileInterval is the time between two reconciliation passes.
	ReconcileInterval time.Duration
	// ReconcileGracePeriod is the minimum age of a key before it may be removed as orphan.
	ReconcileGracePeriod time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	// Try to load .env file recursively
	loadDotEnv()

	return &Config{
		// Server configuration
		ServerHost: env.GetString("SERVER_HOST", "0.0.0.0"),
		ServerPort: env.GetInt("SERVER_PORT", 8080),

		// Storage
		StorageBackend: env.GetString("STORAGE_BACKEND", StorageBackendSQL),

		// Database configuration
		DBDriver:             env.GetString("DB_DRIVER", "sqlite"),
		DBConnectionString:   env.GetString("DB_CONNECTION_STRING", "safestring.db"),
		DBMaxOpenConnections: env.GetInt("DB_MAX_OPEN_CONNECTIONS", 25),
		DBMaxIdleConnections: env.GetInt("DB_MAX_IDLE_CONNECTIONS", 5),
		DBConnMaxLifetime:    env.GetDuration("DB_CONN_MAX_LIFETIME", 5, time.Minute),

		// Blob storage
		BlobBucketURL: env.GetString("BLOB_BUCKET_URL", "file://./data"),

		// Logging
		LogLevel: env.GetString("LOG_LEVEL", "info"),

		// Keys
		MasterKeys:        env.GetString("MASTER_KEYS", ""),
		ActiveMasterKeyID: env.GetString("ACTIVE_MASTER_KEY_ID", ""),
		KMSProvider:       env.GetString("KMS_PROVIDER", ""),
		KMSKeyURI:         env.GetString("KMS_KEY_URI", ""),
		KeyAlgorithm:      env.GetString("KEY_ALGORITHM", "aes-gcm"),

		// Unlock gate
		UnlockTokenHash: env.GetString("UNLOCK_TOKEN_HASH", ""),

		// Rate Limiting (IP-based)
		RateLimitEnabled:        env.GetBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequestsPerSec: env.GetFloat64("RATE_LIMIT_REQUESTS_PER_SEC", 10.0),
		RateLimitBurst:          env.GetInt("RATE_LIMIT_BURST", 20),

		// CORS
		CORSEnabled:      env.GetBool("CORS_ENABLED", false),
		CORSAllowOrigins: env.GetString("CORS_ALLOW_ORIGINS", ""),

		// Metrics
		MetricsEnabled:   env.GetBool("METRICS_ENABLED", true),
		MetricsNamespace: env.GetString("METRICS_NAMESPACE", "safestring"),
		MetricsPort:      env.GetInt("METRICS_PORT", 8081),

		// Reconciler
		ReconcileEnabled:     env.GetBool("RECONCILE_ENABLED", false),
		ReconcileInterval:    env.GetDuration("RECONCILE_INTERVAL_SECONDS", 300, time.Second),
		ReconcileGracePeriod: env.GetDuration("RECONCILE_GRACE_PERIOD_SECONDS", 300, time.Second),
	}
}

// GetGinMode returns the appropriate Gin mode based on log level.
func (c *Config) GetGinMode() string {
	switch c.LogLevel {
	case "debug":
		return "debug"
	default:
		return "release"
	}
}

// UnlockGateEnabled reports whether vault routes require an unlock token.
func (c *Config) UnlockGateEnabled() bool {
	return c.UnlockTokenHash != ""
}

// loadDotEnv searches for a .env file recursively from the current directory
// up to the root directory and loads it if found.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	dir := cwd
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
			return
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
