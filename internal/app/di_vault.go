package app

import (
	"context"
	"fmt"

	authService "github.com/allisson/safestring/internal/auth/service"
	"github.com/allisson/safestring/internal/config"
	"github.com/allisson/safestring/internal/database"
	"github.com/allisson/safestring/internal/metrics"
	vaultRepository "github.com/allisson/safestring/internal/vault/repository"
	vaultUseCase "github.com/allisson/safestring/internal/vault/usecase"
)

// EntryRepository returns the entry repository for the configured storage backend.
func (c *Container) EntryRepository() (vaultUseCase.EntryRepository, error) {
	err := c.once(&c.entryRepositoryInit, "entryRepository", func() (err error) {
		c.entryRepository, err = c.initEntryRepository()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.entryRepository, nil
}

// NameLocker returns the per-name lock shared by the vault and the reconciler.
func (c *Container) NameLocker() *vaultUseCase.NameLocker {
	c.nameLockerInit.Do(func() {
		c.nameLocker = vaultUseCase.NewNameLocker()
	})
	return c.nameLocker
}

// VaultUseCase returns the vault use case, decorated with metrics when they are enabled.
func (c *Container) VaultUseCase() (vaultUseCase.VaultUseCase, error) {
	err := c.once(&c.vaultUseCaseInit, "vaultUseCase", func() (err error) {
		c.vaultUseCase, err = c.initVaultUseCase()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.vaultUseCase, nil
}

// Reconciler returns the orphan key reconciler.
func (c *Container) Reconciler() (vaultUseCase.Reconciler, error) {
	err := c.once(&c.reconcilerInit, "reconciler", func() (err error) {
		c.reconciler, err = c.initReconciler()
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.reconciler, nil
}

// UnlockTokenService returns the unlock token service.
func (c *Container) UnlockTokenService() authService.UnlockTokenService {
	c.unlockTokenServiceInit.Do(func() {
		c.unlockTokenService = authService.NewUnlockTokenService()
	})
	return c.unlockTokenService
}

// initEntryRepository selects the entry repository based on the storage backend and driver.
func (c *Container) initEntryRepository() (vaultUseCase.EntryRepository, error) {
	switch c.config.StorageBackend {
	case config.StorageBackendBlob:
		bucket, err := c.Bucket()
		if err != nil {
			return nil, fmt.Errorf("failed to get bucket for entry repository: %w", err)
		}
		return vaultRepository.NewBlobEntryRepository(bucket), nil
	case config.StorageBackendSQL:
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", c.config.StorageBackend)
	}

	db, err := c.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database for entry repository: %w", err)
	}

	switch c.config.DBDriver {
	case database.DriverPostgres:
		return vaultRepository.NewPostgreSQLEntryRepository(db), nil
	case database.DriverMySQL:
		return vaultRepository.NewMySQLEntryRepository(db), nil
	case database.DriverSQLite:
		return vaultRepository.NewSQLiteEntryRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", c.config.DBDriver)
	}
}

// initVaultUseCase creates the vault use case with all its dependencies.
func (c *Container) initVaultUseCase() (vaultUseCase.VaultUseCase, error) {
	entryRepository, err := c.EntryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get entry repository for vault use case: %w", err)
	}

	keyProvider, err := c.KeyProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get key provider for vault use case: %w", err)
	}

	useCase := vaultUseCase.NewVaultUseCase(
		entryRepository,
		keyProvider,
		c.CipherEngine(),
		c.NameLocker(),
		c.Logger(),
	)

	if !c.config.MetricsEnabled {
		return useCase, nil
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for vault use case: %w", err)
	}
	return vaultUseCase.NewVaultUseCaseWithMetrics(useCase, businessMetrics), nil
}

// initReconciler creates the reconciler with all its dependencies.
func (c *Container) initReconciler() (vaultUseCase.Reconciler, error) {
	entryRepository, err := c.EntryRepository()
	if err != nil {
		return nil, fmt.Errorf("failed to get entry repository for reconciler: %w", err)
	}

	keyProvider, err := c.KeyProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to get key provider for reconciler: %w", err)
	}

	businessMetrics, err := c.BusinessMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to get business metrics for reconciler: %w", err)
	}

	return vaultUseCase.NewReconciler(
		vaultUseCase.ReconcilerConfig{GracePeriod: c.config.ReconcileGracePeriod},
		entryRepository,
		keyProvider,
		c.NameLocker(),
		businessMetrics,
		c.Logger(),
	), nil
}

// countInventory counts stored entries and keys for the inventory gauges.
func (c *Container) countInventory(ctx context.Context) (metrics.Inventory, error) {
	entryRepo, err := c.EntryRepository()
	if err != nil {
		return metrics.Inventory{}, err
	}
	keyRepo, err := c.KeyRepository()
	if err != nil {
		return metrics.Inventory{}, err
	}

	names, err := entryRepo.List(ctx)
	if err != nil {
		return metrics.Inventory{}, err
	}
	keys, err := keyRepo.List(ctx)
	if err != nil {
		return metrics.Inventory{}, err
	}
	return metrics.Inventory{Entries: len(names), Keys: len(keys)}, nil
}
