// Package usecase implements the vault's business logic: saving, retrieving, listing and
// deleting named secret strings, each encrypted under its own per-entry key.
package usecase

import (
	"context"
	"time"

	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

// EntryRepository persists encrypted entries keyed by name.
type EntryRepository interface {
	// Put stores ciphertext and nonce together, replacing any previous entry for the name.
	// Failures wrap vaultDomain.ErrStorageWriteFailed.
	Put(ctx context.Context, entry *vaultDomain.Entry) error

	// Get returns vaultDomain.ErrEntryNotFound when no entry exists for name.
	Get(ctx context.Context, name string) (*vaultDomain.Entry, error)

	// List returns every stored name in byte order.
	List(ctx context.Context) ([]string, error)

	// Delete removes the entry. Removing a missing entry is not an error.
	Delete(ctx context.Context, name string) error

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// VaultUseCase defines the operations exposed by the vault.
type VaultUseCase interface {
	// Save encrypts value and stores it under name, replacing any previous value.
	Save(ctx context.Context, name string, value []byte) error

	// Retrieve decrypts and returns the value stored under name.
	// Returns vaultDomain.ErrEntryNotFound if nothing is stored, or
	// vaultDomain.ErrDecryptionFailed if the value exists but cannot be recovered.
	Retrieve(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all stored entries in ascending byte order.
	List(ctx context.Context) ([]string, error)

	// Delete removes the entry and its key. Deleting a missing name succeeds.
	// If either removal fails the error wraps vaultDomain.ErrDeleteIncomplete.
	Delete(ctx context.Context, name string) error
}

// Reconciler removes keys left behind by incomplete deletes.
type Reconciler interface {
	// ReconcileOnce deletes keys with no matching entry that are older than the grace period
	// and returns how many were removed.
	ReconcileOnce(ctx context.Context) (int, error)

	// Start runs ReconcileOnce every interval until ctx is cancelled.
	Start(ctx context.Context, interval time.Duration) error
}
