package service

import (
	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// KeyHandle is an opaque reference to an entry key.
//
// It holds an AEAD primitive already bound to the unwrapped key. The raw key bytes are
// not reachable through the handle; only CipherEngine, in this package, can use it.
type KeyHandle struct {
	alias     string
	version   string
	algorithm cryptoDomain.Algorithm
	aead      AEAD
}

// Alias returns the alias the key was created under.
func (h *KeyHandle) Alias() string {
	return h.alias
}

// Version identifies the stored wrapping the key was unwrapped from. It matches
// WrappedKey.Version of the repository record.
func (h *KeyHandle) Version() string {
	return h.version
}

// Algorithm returns the AEAD algorithm of the key.
func (h *KeyHandle) Algorithm() cryptoDomain.Algorithm {
	return h.algorithm
}

func (h *KeyHandle) usable() bool {
	return h != nil && h.aead != nil
}
