package domain

import (
	"github.com/allisson/safestring/internal/errors"
)

// Cryptographic operation error definitions.
//
// The key lifecycle errors (generation, access) are infrastructure failures and do not
// wrap a standard error, so the HTTP layer reports them as internal errors. Input errors
// wrap errors.ErrInvalidInput.
var (
	// ErrUnsupportedAlgorithm indicates the requested encryption algorithm is not supported.
	ErrUnsupportedAlgorithm = errors.Wrap(errors.ErrInvalidInput, "unsupported algorithm")

	// ErrInvalidKeySize indicates a key is not exactly KeySize bytes.
	ErrInvalidKeySize = errors.Wrap(errors.ErrInvalidInput, "invalid key size")

	// ErrInvalidKeyAlias indicates an empty key alias was supplied to the key provider.
	ErrInvalidKeyAlias = errors.Wrap(errors.ErrInvalidInput, "invalid key alias")

	// ErrKeyNotFound indicates no key exists for an alias.
	ErrKeyNotFound = errors.Wrap(errors.ErrNotFound, "key not found")

	// ErrKeyGenerationFailed indicates the secure boundary rejected the creation of a key.
	ErrKeyGenerationFailed = errors.New("key generation failed")

	// ErrKeyAccessFailed indicates a previously created key can no longer be used.
	ErrKeyAccessFailed = errors.New("key access failed")

	// ErrAuthenticationFailed indicates AEAD tag verification failed.
	//
	// The cause (tampered ciphertext, tampered nonce, wrong key) is deliberately not
	// distinguished in the error value.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMasterKeysNotSet indicates MASTER_KEYS is not configured.
	ErrMasterKeysNotSet = errors.New("MASTER_KEYS not set")

	// ErrActiveMasterKeyIDNotSet indicates ACTIVE_MASTER_KEY_ID is not configured.
	ErrActiveMasterKeyIDNotSet = errors.New("ACTIVE_MASTER_KEY_ID not set")

	// ErrInvalidMasterKeysFormat indicates a MASTER_KEYS entry is not "id:base64key".
	ErrInvalidMasterKeysFormat = errors.New("invalid MASTER_KEYS format")

	// ErrInvalidMasterKeyBase64 indicates a master key is not valid base64.
	ErrInvalidMasterKeyBase64 = errors.New("invalid master key base64")

	// ErrActiveMasterKeyNotFound indicates the active master key id is not in MASTER_KEYS.
	ErrActiveMasterKeyNotFound = errors.New("active master key not found")

	// ErrMasterKeyNotFound indicates a wrapped key references an unknown master key.
	ErrMasterKeyNotFound = errors.New("master key not found")

	// ErrKMSConfigIncomplete indicates only one of KMS_PROVIDER and KMS_KEY_URI is set.
	ErrKMSConfigIncomplete = errors.New("KMS_PROVIDER and KMS_KEY_URI must be set together")
)
