package app

import (
	"context"
	"fmt"

	"github.com/allisson/safestring/internal/config"
	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	cryptoRepository "github.com/allisson/safestring/internal/crypto/repository"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
	"github.com/allisson/safestring/internal/database"
)

// MasterKeyChain returns the master key chain loaded from the configuration.
func (c *Container) MasterKeyChain() (*cryptoDomain.MasterKeyChain, error) {
	err := c.once(&c.masterKeyChainInit, "masterKeyChain", func() (err error) {
		c.masterKeyChain, err = c.initMasterKeyChain()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.masterKeyChain, nil
}

// AEADManager returns the AEAD manager service.
func (c *Container) AEADManager() cryptoService.AEADManager {
	c.aeadManagerInit.Do(func() {
		c.aeadManager = cryptoService.NewAEADManager()
	})
	return c.aeadManager
}

// KMSService returns the KMS service.
func (c *Container) KMSService() *cryptoService.KMSService {
	c.kmsServiceInit.Do(func() {
		c.kmsService = cryptoService.NewKMSService()
	})
	return c.kmsService
}

// CipherEngine returns the cipher engine that encrypts entry values.
func (c *Container) CipherEngine() cryptoService.CipherEngine {
	c.cipherEngineInit.Do(func() {
		c.cipherEngine = cryptoService.NewCipherEngine(c.Logger())
	})
	return c.cipherEngine
}

// KeyRepository returns the wrapped key repository for the configured storage backend.
func (c *Container) KeyRepository() (cryptoService.KeyRepository, error) {
	err := c.once(&c.keyRepositoryInit, "keyRepository", func() (err error) {
		c.keyRepository, err = c.initKeyRepository()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.keyRepository, nil
}

// KeyProvider returns the key provider that owns every entry key.
func (c *Container) KeyProvider() (cryptoService.KeyProvider, error) {
	err := c.once(&c.keyProviderInit, "keyProvider", func() (err error) {
		c.keyProvider, err = c.initKeyProvider()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.keyProvider, nil
}

// initMasterKeyChain loads the master key chain, decrypting it through the KMS when configured.
func (c *Container) initMasterKeyChain() (*cryptoDomain.MasterKeyChain, error) {
	masterKeyChain, err := cryptoDomain.LoadMasterKeyChain(
		context.Background(),
		cryptoDomain.MasterKeyConfig{
			MasterKeys:        c.config.MasterKeys,
			ActiveMasterKeyID: c.config.ActiveMasterKeyID,
			KMSProvider:       c.config.KMSProvider,
			KMSKeyURI:         c.config.KMSKeyURI,
		},
		c.KMSService(),
		c.Logger(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load master key chain: %w", err)
	}
	return masterKeyChain, nil
}

// initKeyRepository selects the key repository based on the storage backend and driver.
func (c *Container) initKeyRepository() (cryptoService.KeyRepository, error) {
	switch c.config.StorageBackend {
	case config.StorageBackendBlob:
		bucket, err := c.Bucket()
		if err != nil {
			return nil, fmt.Errorf("failed to get bucket for key repository: %w", err)
		}
		return cryptoRepository.NewBlobKeyRepository(bucket), nil
	case config.StorageBackendSQL:
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.config.StorageBackend)
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for key repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return cryptoRepository.NewPostgreSQLKeyRepository(db), nil
	case database.DriverMySQL:
		return cryptoRepository.NewMySQLKeyRepository(db), nil
	case database.DriverSQLite:
		return cryptoRepository.NewSQLiteKeyRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initKeyProvider creates the key provider with all its dependencies.
func (c *Container) initKeyProvider() (cryptoService.KeyProvider, error) {
	alg, err := cryptoDomain.ParseAlgorithm(c.config.KeyAlgorithm)
	if err != nil {
		return nil, fmt.Errorf("invalid KEY_ALGORITHM: %w", err)
	}

	keyRepository, err := c.KeyRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get key repository for key provider: %w", err)
	}

	masterKeyChain, err := c.MasterKeyChain()
	if err != nil {
		return nil, fmt.Errorf("failed to get master key chain for key provider: %w", err)
	}

	return cryptoService.NewWrappedKeyProvider(
		keyRepository,
		masterKeyChain,
		c.AEADManager(),
		alg,
		c.Logger(),
	), nil
}
