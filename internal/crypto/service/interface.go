// Package service provides the cryptographic services behind the vault: AEAD ciphers,
// the cipher engine that encrypts entry values, and the key provider that owns the
// lifecycle of per-entry keys inside the secure boundary.
package service

import (
	"context"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// AEAD defines the interface for Authenticated Encryption with Associated Data.
type AEAD interface {
	// Encrypt encrypts plaintext with optional AAD and returns ciphertext and nonce.
	Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error)

	// Decrypt decrypts ciphertext using the provided nonce and AAD.
	Decrypt(ciphertext, nonce, aad []byte) ([]byte, error)
}

// AEADManager defines the interface for creating AEAD cipher instances.
type AEADManager interface {
	// CreateCipher creates an AEAD cipher instance for the specified algorithm.
	CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error)
}

// CipherEngine encrypts and decrypts entry values with a KeyHandle.
//
// The engine always generates the nonce itself; callers cannot supply one.
type CipherEngine interface {
	// Encrypt returns the ciphertext (tag appended) and the nonce used.
	Encrypt(key *KeyHandle, plaintext []byte) (ciphertext, nonce []byte, err error)

	// Decrypt returns the plaintext or ErrAuthenticationFailed for any malformed or
	// tampered input.
	Decrypt(key *KeyHandle, ciphertext, nonce []byte) ([]byte, error)
}

// KeyProvider owns entry keys. Key bytes never leave it; callers only receive handles.
type KeyProvider interface {
	// GetOrCreateKey returns the key for alias, creating it on first use.
	// Concurrent calls for the same alias yield the same key.
	GetOrCreateKey(ctx context.Context, alias string) (*KeyHandle, error)

	// GetKey returns the key for alias or ErrKeyNotFound. It never creates a key.
	GetKey(ctx context.Context, alias string) (*KeyHandle, error)

	// GetWrappedKey returns the stored form of the key for alias or ErrKeyNotFound.
	GetWrappedKey(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error)

	// DeleteKeyVersion removes the key for key.Alias only if the stored key is still the
	// same version as key. It reports whether a key was removed.
	DeleteKeyVersion(ctx context.Context, key *cryptoDomain.WrappedKey) (bool, error)

	// RestoreKey stores a wrapped key previously removed with DeleteKeyVersion. Returns an
	// error wrapping errors.ErrConflict when the alias already has a key.
	RestoreKey(ctx context.Context, key *cryptoDomain.WrappedKey) error

	// ListAliases returns every stored key without its material.
	ListAliases(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error)
}

// KeyRepository persists wrapped entry keys.
type KeyRepository interface {
	// Create stores a new wrapped key. Returns an error wrapping errors.ErrConflict when
	// the alias already exists.
	Create(ctx context.Context, key *cryptoDomain.WrappedKey) error

	// Get returns the wrapped key for alias or ErrKeyNotFound.
	Get(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error)

	// Delete removes the wrapped key for alias. A missing alias is not an error.
	Delete(ctx context.Context, alias string) error

	// DeleteVersion removes the wrapped key for alias only if its wrap nonce equals nonce.
	// It reports whether a key was removed.
	DeleteVersion(ctx context.Context, alias string, nonce []byte) (bool, error)

	// List returns every stored key ordered by alias.
	List(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error)
}
