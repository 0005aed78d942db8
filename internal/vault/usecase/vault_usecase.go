package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

// vaultUseCase implements VaultUseCase on top of a key provider, a cipher engine and an
// entry repository. Each entry is encrypted with its own key, aliased "key_" + name.
type vaultUseCase struct {
	entryRepo    EntryRepository
	keyProvider  cryptoService.KeyProvider
	cipherEngine cryptoService.CipherEngine
	locker       *NameLocker
	logger       *slog.Logger
}

// NewVaultUseCase creates a new VaultUseCase. The locker must be shared with the reconciler.
func NewVaultUseCase(
	entryRepo EntryRepository,
	keyProvider cryptoService.KeyProvider,
	cipherEngine cryptoService.CipherEngine,
	locker *NameLocker,
	logger *slog.Logger,
) VaultUseCase {
	return &vaultUseCase{
		entryRepo:    entryRepo,
		keyProvider:  keyProvider,
		cipherEngine: cipherEngine,
		locker:       locker,
		logger:       logger,
	}
}

// maxAttempts bounds how often Save and Retrieve start over when another process
// replaces a key or an entry underneath them.
const maxAttempts = 3

// Save encrypts value under the entry's key and stores it, replacing any previous value.
// Nothing is written unless the key and the encryption succeed.
//
// After the write the stored key is read back. Another process may delete or replace
// the key while the entry is being written, in which case the value is encrypted again
// under the current key.
func (v *vaultUseCase) Save(ctx context.Context, name string, value []byte) error {
	if name == "" {
		return vaultDomain.ErrInvalidName
	}

	unlock := v.locker.Lock(name)
	defer unlock()

	alias := cryptoDomain.KeyAlias(name)
	for attempt := 1; ; attempt++ {
		version, err := v.put(ctx, name, alias, value)
		if err != nil {
			return err
		}

		current, err := v.keyProvider.GetWrappedKey(ctx, alias)
		if err == nil && current.Version() == version {
			return nil
		}
		if err != nil && !apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
			return err
		}
		if attempt == maxAttempts {
			return fmt.Errorf("%w: key for %q changed during save", cryptoDomain.ErrKeyAccessFailed, name)
		}

		v.logger.Warn("key changed during save, retrying",
			slog.String("name", name),
			slog.Int("attempt", attempt),
		)
	}
}

// put encrypts value under the current key for alias and writes the entry. It returns
// the version of the key used.
func (v *vaultUseCase) put(ctx context.Context, name, alias string, value []byte) (string, error) {
	key, err := v.keyProvider.GetOrCreateKey(ctx, alias)
	if err != nil {
		return "", err
	}

	ciphertext, nonce, err := v.cipherEngine.Encrypt(key, value)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	entry := &vaultDomain.Entry{
		Name:       name,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := v.entryRepo.Put(ctx, entry); err != nil {
		return "", err
	}
	return key.Version(), nil
}

// Retrieve loads and decrypts the value stored under name. It never creates a key.
func (v *vaultUseCase) Retrieve(ctx context.Context, name string) ([]byte, error) {
	if name == "" {
		return nil, vaultDomain.ErrEntryNotFound
	}

	unlock := v.locker.Lock(name)
	defer unlock()

	entry, err := v.entryRepo.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		plaintext, err := v.open(ctx, entry)
		if err == nil || attempt == maxAttempts {
			return plaintext, err
		}

		// Another process may have replaced or removed the entry and its key between
		// the two reads; only a stable entry is reported as unreadable.
		current, getErr := v.entryRepo.Get(ctx, name)
		if getErr != nil {
			if apperrors.Is(getErr, apperrors.ErrNotFound) {
				return nil, getErr
			}
			return nil, err
		}
		if bytes.Equal(current.Nonce, entry.Nonce) && bytes.Equal(current.Ciphertext, entry.Ciphertext) {
			return nil, err
		}
		entry = current
	}
}

func (v *vaultUseCase) open(ctx context.Context, entry *vaultDomain.Entry) ([]byte, error) {
	key, err := v.keyProvider.GetKey(ctx, entry.KeyAlias())
	if err != nil {
		// A stored entry whose key is gone is unreadable, not missing.
		return nil, fmt.Errorf("%w: %w: %v", vaultDomain.ErrDecryptionFailed, cryptoDomain.ErrKeyAccessFailed, err)
	}

	plaintext, err := v.cipherEngine.Decrypt(key, entry.Ciphertext, entry.Nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", vaultDomain.ErrDecryptionFailed, err)
	}
	return plaintext, nil
}

// List returns the names of all stored entries in byte order.
func (v *vaultUseCase) List(ctx context.Context) ([]string, error) {
	names, err := v.entryRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.Sort(names)
	return names, nil
}

// Delete removes the entry and its key. Both removals are attempted even if the first fails.
func (v *vaultUseCase) Delete(ctx context.Context, name string) error {
	// Nothing can be stored under an empty name.
	if name == "" {
		return nil
	}

	unlock := v.locker.Lock(name)
	defer unlock()

	entryErr := v.entryRepo.Delete(ctx, name)
	keyErr := v.deleteKey(ctx, name, entryErr == nil)

	if entryErr == nil && keyErr == nil {
		return nil
	}

	v.logger.Warn("delete incomplete",
		slog.String("name", name),
		slog.Bool("entry_removed", entryErr == nil),
		slog.Bool("key_removed", keyErr == nil),
	)

	return fmt.Errorf("%w: %w", vaultDomain.ErrDeleteIncomplete, errors.Join(entryErr, keyErr))
}

// deleteKey removes the key version currently stored for name. When the entry was removed
// but shows up again afterwards, a save in another process wrote it under that key, so the
// key is put back and the save wins.
func (v *vaultUseCase) deleteKey(ctx context.Context, name string, entryRemoved bool) error {
	key, err := v.keyProvider.GetWrappedKey(ctx, cryptoDomain.KeyAlias(name))
	if err != nil {
		if apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
			return nil
		}
		return err
	}

	deleted, err := v.keyProvider.DeleteKeyVersion(ctx, key)
	if err != nil || !deleted || !entryRemoved {
		return err
	}

	if _, err := v.entryRepo.Get(ctx, name); err != nil {
		return nil
	}

	if err := v.keyProvider.RestoreKey(ctx, key); err != nil && !apperrors.Is(err, apperrors.ErrConflict) {
		return err
	}
	v.logger.Info("entry saved concurrently, key kept", slog.String("name", name))
	return nil
}
