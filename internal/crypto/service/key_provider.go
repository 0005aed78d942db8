package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"golang.org/x/sync/singleflight"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	apperrors "github.com/allisson/safestring/internal/errors"
)

type cachedKey struct {
	version   string
	algorithm cryptoDomain.Algorithm
	enclave   *memguard.Enclave
}

// WrappedKeyProvider implements KeyProvider with envelope encryption.
//
// Each entry key is 32 random bytes wrapped by the active master key, with the alias as
// AAD, and persisted through a KeyRepository. Unwrapped keys are cached per alias in
// memguard enclaves and only opened while a cipher is built from them.
//
// The repository is the source of truth. Every lookup reads the stored wrapped key and
// reuses a cached enclave only when it was unwrapped from that same version, so a key
// deleted or recreated by another process is never served from the cache.
type WrappedKeyProvider struct {
	keyRepo        KeyRepository
	masterKeyChain *cryptoDomain.MasterKeyChain
	aeadManager    AEADManager
	algorithm      cryptoDomain.Algorithm
	logger         *slog.Logger
	random         io.Reader

	group singleflight.Group
	mu    sync.RWMutex
	cache map[string]cachedKey
}

// NewWrappedKeyProvider creates a key provider that generates keys with alg.
func NewWrappedKeyProvider(
	keyRepo KeyRepository,
	masterKeyChain *cryptoDomain.MasterKeyChain,
	aeadManager AEADManager,
	alg cryptoDomain.Algorithm,
	logger *slog.Logger,
) *WrappedKeyProvider {
	return &WrappedKeyProvider{
		keyRepo:        keyRepo,
		masterKeyChain: masterKeyChain,
		aeadManager:    aeadManager,
		algorithm:      alg,
		logger:         logger,
		random:         rand.Reader,
		cache:          make(map[string]cachedKey),
	}
}

// GetOrCreateKey returns the key for alias, generating and persisting one if none exists.
func (p *WrappedKeyProvider) GetOrCreateKey(ctx context.Context, alias string) (*KeyHandle, error) {
	if alias == "" {
		return nil, cryptoDomain.ErrInvalidKeyAlias
	}

	v, err, _ := p.group.Do(alias, func() (any, error) {
		return p.loadOrCreate(ctx, alias)
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeyHandle), nil
}

// GetKey returns the key for alias or ErrKeyNotFound.
func (p *WrappedKeyProvider) GetKey(ctx context.Context, alias string) (*KeyHandle, error) {
	wrapped, err := p.GetWrappedKey(ctx, alias)
	if err != nil {
		return nil, err
	}
	return p.handle(wrapped)
}

// GetWrappedKey returns the stored form of the key for alias or ErrKeyNotFound. A missing
// key also drops any cached copy.
func (p *WrappedKeyProvider) GetWrappedKey(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	if alias == "" {
		return nil, cryptoDomain.ErrInvalidKeyAlias
	}

	wrapped, err := p.keyRepo.Get(ctx, alias)
	if err != nil {
		if apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
			p.evict(alias, "")
			return nil, cryptoDomain.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	return wrapped, nil
}

// DeleteKeyVersion removes the stored key only while it is still the version of key.
// It reports whether anything was removed.
func (p *WrappedKeyProvider) DeleteKeyVersion(ctx context.Context, key *cryptoDomain.WrappedKey) (bool, error) {
	deleted, err := p.keyRepo.DeleteVersion(ctx, key.Alias, key.Nonce)
	if err != nil {
		return false, fmt.Errorf("failed to delete key %s: %w", key.Alias, err)
	}
	if deleted {
		p.evict(key.Alias, key.Version())
	}
	return deleted, nil
}

// RestoreKey stores a wrapped key removed by DeleteKeyVersion. It fails with an error
// wrapping errors.ErrConflict when the alias has been recreated since.
func (p *WrappedKeyProvider) RestoreKey(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	if err := p.keyRepo.Create(ctx, key); err != nil {
		return fmt.Errorf("failed to restore key %s: %w", key.Alias, err)
	}
	return nil
}

// ListAliases returns every stored key.
func (p *WrappedKeyProvider) ListAliases(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	return p.keyRepo.List(ctx)
}

func (p *WrappedKeyProvider) loadOrCreate(ctx context.Context, alias string) (*KeyHandle, error) {
	wrapped, err := p.GetWrappedKey(ctx, alias)
	if err == nil {
		return p.handle(wrapped)
	}
	if !apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
		return nil, err
	}

	key := make([]byte, cryptoDomain.KeySize)
	if _, err := io.ReadFull(p.random, key); err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyGenerationFailed, err)
	}

	wrapped, err = p.wrap(alias, key)
	if err != nil {
		cryptoDomain.Zero(key)
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyGenerationFailed, err)
	}

	if err := p.keyRepo.Create(ctx, wrapped); err != nil {
		cryptoDomain.Zero(key)
		if apperrors.Is(err, apperrors.ErrConflict) {
			// Another process created the key first; use theirs.
			p.logger.Debug("key created concurrently", slog.String("alias", alias))
			return p.GetKey(ctx, alias)
		}
		if apperrors.Is(err, apperrors.ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyGenerationFailed, err)
	}

	p.logger.Debug("key created",
		slog.String("alias", alias),
		slog.String("master_key_id", wrapped.MasterKeyID),
	)
	return p.store(alias, wrapped.Version(), wrapped.Algorithm, key)
}

func (p *WrappedKeyProvider) wrap(alias string, key []byte) (*cryptoDomain.WrappedKey, error) {
	masterKey, ok := p.masterKeyChain.Active()
	if !ok {
		return nil, cryptoDomain.ErrActiveMasterKeyNotFound
	}
	buf, err := masterKey.Open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()

	cipher, err := p.aeadManager.CreateCipher(buf.Bytes(), p.algorithm)
	if err != nil {
		return nil, err
	}
	encryptedKey, nonce, err := cipher.Encrypt(key, []byte(alias))
	if err != nil {
		return nil, err
	}

	return &cryptoDomain.WrappedKey{
		Alias:        alias,
		MasterKeyID:  masterKey.ID,
		Algorithm:    p.algorithm,
		EncryptedKey: encryptedKey,
		Nonce:        nonce,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

func (p *WrappedKeyProvider) unwrap(wrapped *cryptoDomain.WrappedKey) (*KeyHandle, error) {
	masterKey, ok := p.masterKeyChain.Get(wrapped.MasterKeyID)
	if !ok {
		return nil, fmt.Errorf("%w: %v %s", cryptoDomain.ErrKeyAccessFailed, cryptoDomain.ErrMasterKeyNotFound, wrapped.MasterKeyID)
	}
	buf, err := masterKey.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	defer buf.Destroy()

	cipher, err := p.aeadManager.CreateCipher(buf.Bytes(), wrapped.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	key, err := cipher.Decrypt(wrapped.EncryptedKey, wrapped.Nonce, []byte(wrapped.Alias))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	if len(key) != cryptoDomain.KeySize {
		cryptoDomain.Zero(key)
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, cryptoDomain.ErrInvalidKeySize)
	}

	return p.store(wrapped.Alias, wrapped.Version(), wrapped.Algorithm, key)
}

// handle returns a handle for wrapped, unwrapping it unless the cache already holds
// this version.
func (p *WrappedKeyProvider) handle(wrapped *cryptoDomain.WrappedKey) (*KeyHandle, error) {
	if h, ok := p.cachedHandle(wrapped.Alias, wrapped.Version()); ok {
		return h, nil
	}
	return p.unwrap(wrapped)
}

// store seals key into the cache and returns a handle for it. key is wiped.
func (p *WrappedKeyProvider) store(alias, version string, alg cryptoDomain.Algorithm, key []byte) (*KeyHandle, error) {
	entry := cachedKey{version: version, algorithm: alg, enclave: memguard.NewEnclave(key)}

	handle, err := p.handleFor(alias, entry)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[alias] = entry
	p.mu.Unlock()
	return handle, nil
}

func (p *WrappedKeyProvider) cachedHandle(alias, version string) (*KeyHandle, bool) {
	p.mu.RLock()
	entry, ok := p.cache[alias]
	p.mu.RUnlock()
	if !ok || entry.version != version {
		return nil, false
	}

	handle, err := p.handleFor(alias, entry)
	if err != nil {
		p.logger.Warn("dropping unusable cached key", slog.String("alias", alias), slog.Any("error", err))
		p.evict(alias, version)
		return nil, false
	}
	return handle, true
}

// evict drops the cached key for alias. A non-empty version only drops that version.
func (p *WrappedKeyProvider) evict(alias, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.cache[alias]; ok && (version == "" || entry.version == version) {
		delete(p.cache, alias)
	}
}

func (p *WrappedKeyProvider) handleFor(alias string, entry cachedKey) (*KeyHandle, error) {
	buf, err := entry.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	defer buf.Destroy()

	aead, err := p.aeadManager.CreateCipher(buf.Bytes(), entry.algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cryptoDomain.ErrKeyAccessFailed, err)
	}
	return &KeyHandle{alias: alias, version: entry.version, algorithm: entry.algorithm, aead: aead}, nil
}
