package domain

import (
	"github.com/allisson/safestring/internal/errors"
)

// Vault error definitions.
var (
	// ErrInvalidName indicates an empty entry name or one the storage backend cannot hold.
	ErrInvalidName = errors.Wrap(errors.ErrInvalidInput, "invalid entry name")

	// ErrEntryNotFound indicates no entry exists under the name.
	ErrEntryNotFound = errors.Wrap(errors.ErrNotFound, "entry not found")

	// ErrStorageWriteFailed indicates the entry store rejected a write.
	ErrStorageWriteFailed = errors.New("storage write failed")

	// ErrDecryptionFailed indicates the entry exists but its value cannot be recovered,
	// either because authentication failed or because its key is unusable.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrDeleteIncomplete indicates one of the two removals of a delete failed.
	// The entry or its key may remain; the reconciler repairs orphan keys.
	ErrDeleteIncomplete = errors.New("delete incomplete")
)
