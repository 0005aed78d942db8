// Package domain defines the core domain models and errors of the vault.
// An entry is a named value encrypted with its own key; ciphertext and nonce are always
// stored and read together.
package domain

import (
	"time"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// Entry is the persisted, encrypted form of a named value.
type Entry struct {
	// Name is the unique, non-empty identifier chosen by the caller.
	Name string
	// Ciphertext is the encrypted value with the authentication tag appended.
	Ciphertext []byte
	// Nonce is the 12-byte nonce generated for this ciphertext.
	Nonce []byte
	// CreatedAt is set on first save and kept on overwrite.
	CreatedAt time.Time
	// UpdatedAt is set on every save.
	UpdatedAt time.Time
}

// KeyAlias returns the alias of the key protecting this entry.
func (e *Entry) KeyAlias() string {
	return cryptoDomain.KeyAlias(e.Name)
}
