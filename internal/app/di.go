// Package app provides dependency injection container for assembling application components.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gocloud.dev/blob"

	authService "github.com/allisson/safestring/internal/auth/service"
	"github.com/allisson/safestring/internal/blobstore"
	"github.com/allisson/safestring/internal/config"
	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
	"github.com/allisson/safestring/internal/database"
	"github.com/allisson/safestring/internal/http"
	"github.com/allisson/safestring/internal/metrics"
	vaultHTTP "github.com/allisson/safestring/internal/vault/http"
	vaultUseCase "github.com/allisson/safestring/internal/vault/usecase"
)

// Container holds all application dependencies and provides methods to access them.
// It follows the lazy initialization pattern - components are created on first access.
type Container struct {
	// Configuration
	config *config.Config

	// Infrastructure
	logger          *slog.Logger
	db              *sql.DB
	bucket          *blob.Bucket
	metricsProvider *metrics.Provider
	businessMetrics metrics.BusinessMetrics

	// Crypto
	masterKeyChain *cryptoDomain.MasterKeyChain
	aeadManager    cryptoService.AEADManager
	kmsService     *cryptoService.KMSService
	keyRepository  cryptoService.KeyRepository
	keyProvider    cryptoService.KeyProvider
	cipherEngine   cryptoService.CipherEngine

	// Vault
	entryRepository    vaultUseCase.EntryRepository
	nameLocker         *vaultUseCase.NameLocker
	vaultUseCase       vaultUseCase.VaultUseCase
	reconciler         vaultUseCase.Reconciler
	unlockTokenService authService.UnlockTokenService

	// Servers
	httpServer    *http.Server
	metricsServer *http.MetricsServer

	// Initialization flags and mutex for thread-safety
	mu                     sync.Mutex
	loggerInit             sync.Once
	dbInit                 sync.Once
	bucketInit             sync.Once
	metricsProviderInit    sync.Once
	businessMetricsInit    sync.Once
	masterKeyChainInit     sync.Once
	aeadManagerInit        sync.Once
	kmsServiceInit         sync.Once
	keyRepositoryInit      sync.Once
	keyProviderInit        sync.Once
	cipherEngineInit       sync.Once
	entryRepositoryInit    sync.Once
	nameLockerInit         sync.Once
	vaultUseCaseInit       sync.Once
	reconcilerInit         sync.Once
	unlockTokenServiceInit sync.Once
	httpServerInit         sync.Once
	metricsServerInit      sync.Once
	initErrors             map[string]error
}

// NewContainer creates a new dependency injection container with the provided configuration.
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config:     cfg,
		initErrors: make(map[string]error),
	}
}

// Config returns the application configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the configured logger instance.
// It creates a new logger on first access based on the log level in configuration.
func (c *Container) Logger() *slog.Logger {
	c.loggerInit.Do(func() {
		c.logger = c.initLogger()
	})
	return c.logger
}

// once runs init a single time under key and replays its error on every later call.
func (c *Container) once(o *sync.Once, key string, init func() error) error {
	o.Do(func() {
		if err := init(); err != nil {
			c.mu.Lock()
			c.initErrors[key] = err
			c.mu.Unlock()
		}
	})
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initErrors[key]
}

// DB returns the database connection of the sql storage backend.
func (c *Container) DB() (*sql.DB, error) {
	err := c.once(&c.dbInit, "db", func() (err error) {
		c.db, err = c.initDB()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.db, nil
}

// Bucket returns the bucket of the blob storage backend.
func (c *Container) Bucket() (*blob.Bucket, error) {
	err := c.once(&c.bucketInit, "bucket", func() (err error) {
		c.bucket, err = c.initBucket()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.bucket, nil
}

// MetricsProvider returns the metrics provider, or nil when metrics are disabled.
func (c *Container) MetricsProvider() (*metrics.Provider, error) {
	err := c.once(&c.metricsProviderInit, "metricsProvider", func() (err error) {
		c.metricsProvider, err = c.initMetricsProvider()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.metricsProvider, nil
}

// BusinessMetrics returns the business metrics recorder; a no-op one when metrics are disabled.
func (c *Container) BusinessMetrics() (metrics.BusinessMetrics, error) {
	err := c.once(&c.businessMetricsInit, "businessMetrics", func() (err error) {
		c.businessMetrics, err = c.initBusinessMetrics()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.businessMetrics, nil
}

// HTTPServer returns the HTTP server with its router configured.
func (c *Container) HTTPServer() (*http.Server, error) {
	err := c.once(&c.httpServerInit, "httpServer", func() (err error) {
		c.httpServer, err = c.initHTTPServer()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.httpServer, nil
}

// MetricsServer returns the metrics server, or nil when metrics are disabled.
func (c *Container) MetricsServer() (*http.MetricsServer, error) {
	err := c.once(&c.metricsServerInit, "metricsServer", func() (err error) {
		c.metricsServer, err = c.initMetricsServer()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.metricsServer, nil
}

// Shutdown performs cleanup of all initialized resources.
// It should be called when the application is shutting down.
func (c *Container) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var shutdownErrors []error

	if c.httpServer != nil {
		if err := c.httpServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("http server shutdown: %w", err))
		}
	}

	if c.metricsServer != nil {
		if err := c.metricsServer.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}

	if c.metricsProvider != nil {
		if err := c.metricsProvider.Shutdown(ctx); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("metrics provider shutdown: %w", err))
		}
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("database close: %w", err))
		}
	}

	if c.bucket != nil {
		if err := c.bucket.Close(); err != nil {
			shutdownErrors = append(shutdownErrors, fmt.Errorf("bucket close: %w", err))
		}
	}

	// Destroys the master key enclaves; no key can be unwrapped afterwards.
	if c.masterKeyChain != nil {
		c.masterKeyChain.Close()
	}

	if len(shutdownErrors) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(shutdownErrors...))
	}

	return nil
}

// initLogger creates and configures a structured logger based on the log level.
func (c *Container) initLogger() *slog.Logger {
	var logLevel slog.Level
	switch c.config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	// Stderr keeps command output such as `get` clean on stdout.
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(handler)
}

// initDB creates and configures the database connection.
func (c *Container) initDB() (*sql.DB, error) {
	db, err := database.Connect(database.Config{
		Driver:             c.config.DBDriver,
		ConnectionString:   c.config.DBConnectionString,
		MaxOpenConnections: c.config.DBMaxOpenConnections,
		MaxIdleConnections: c.config.DBMaxIdleConnections,
		ConnMaxLifetime:    c.config.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// initBucket opens the blob bucket.
func (c *Container) initBucket() (*blob.Bucket, error) {
	bucket, err := blobstore.OpenBucket(context.Background(), c.config.BlobBucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket: %w", err)
	}
	return bucket, nil
}

// initMetricsProvider creates the OpenTelemetry provider when metrics are enabled.
func (c *Container) initMetricsProvider() (*metrics.Provider, error) {
	if !c.config.MetricsEnabled {
		return nil, nil
	}

	provider, err := metrics.NewProvider(c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics provider: %w", err)
	}
	return provider, nil
}

// initBusinessMetrics creates the business metrics recorder.
func (c *Container) initBusinessMetrics() (metrics.BusinessMetrics, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return metrics.NewNoOpBusinessMetrics(), nil
	}

	bm, err := metrics.NewBusinessMetrics(provider.MeterProvider(), c.config.MetricsNamespace)
	if err != nil {
		return nil, fmt.Errorf("failed to create business metrics: %w", err)
	}
	return bm, nil
}

// initHTTPServer creates the HTTP server and configures its router.
func (c *Container) initHTTPServer() (*http.Server, error) {
	logger := c.Logger()

	entryRepository, err := c.EntryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get entry repository for http server: %w", err)
	}

	vault, err := c.VaultUseCase()
	if err != nil {
		return nil, fmt.Errorf("failed to get vault use case for http server: %w", err)
	}

	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for http server: %w", err)
	}

	server := http.NewServer(entryRepository, c.config.ServerHost, c.config.ServerPort, logger)
	server.SetupRouter(
		c.config,
		vaultHTTP.NewEntryHandler(vault, logger),
		c.UnlockTokenService(),
		provider,
	)

	return server, nil
}

// initMetricsServer creates the metrics server when metrics are enabled.
func (c *Container) initMetricsServer() (*http.MetricsServer, error) {
	provider, err := c.MetricsProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get metrics provider for metrics server: %w", err)
	}
	if provider == nil {
		return nil, nil
	}

	if err := metrics.RegisterInventory(provider.MeterProvider(), c.config.MetricsNamespace, c.countInventory); err != nil {
		return nil, fmt.Errorf("failed to register inventory metrics: %w", err)
	}

	return http.NewMetricsServer(c.config.ServerHost, c.config.MetricsPort, c.Logger(), provider), nil
}
