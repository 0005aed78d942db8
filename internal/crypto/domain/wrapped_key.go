package domain

import (
	"encoding/hex"
	"time"
)

// WrappedKey is the persisted form of an entry key.
//
// The entry key is encrypted under a master key with the alias as additional
// authenticated data, so a wrapped key copied to a different alias fails to unwrap.
// The plaintext key is never stored.
type WrappedKey struct {
	Alias        string    // "key_" + entry name
	MasterKeyID  string    // ID of the master key used to wrap this key
	Algorithm    Algorithm // Algorithm used both for wrapping and for the entry key
	EncryptedKey []byte    // Entry key encrypted with the master key
	Nonce        []byte    // Nonce used to wrap the entry key
	CreatedAt    time.Time
}

// Version identifies this wrapping of the key. The wrap nonce is random, so a key that was
// deleted and recreated under the same alias has a different version.
func (k *WrappedKey) Version() string {
	return hex.EncodeToString(k.Nonce)
}

// WrappedKeyInfo describes a stored key without its encrypted material.
type WrappedKeyInfo struct {
	Alias       string
	MasterKeyID string
	Algorithm   Algorithm
	CreatedAt   time.Time
}
