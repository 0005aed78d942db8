package service

import (
	"fmt"
	"log/slog"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// AEADCipherEngine implements CipherEngine using the AEAD bound to each KeyHandle.
// The key alias is used as additional authenticated data, so a ciphertext moved to
// another entry fails to decrypt.
type AEADCipherEngine struct {
	logger *slog.Logger
}

// NewCipherEngine creates a new AEADCipherEngine.
func NewCipherEngine(logger *slog.Logger) *AEADCipherEngine {
	return &AEADCipherEngine{logger: logger}
}

// Encrypt encrypts plaintext under key with a fresh random nonce.
func (e *AEADCipherEngine) Encrypt(key *KeyHandle, plaintext []byte) ([]byte, []byte, error) {
	if !key.usable() {
		return nil, nil, cryptoDomain.ErrKeyAccessFailed
	}

	ciphertext, nonce, err := key.aead.Encrypt(plaintext, []byte(key.alias))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encrypt: %w", err)
	}
	return ciphertext, nonce, nil
}

// Decrypt verifies and decrypts ciphertext. Every failure yields ErrAuthenticationFailed.
func (e *AEADCipherEngine) Decrypt(key *KeyHandle, ciphertext, nonce []byte) ([]byte, error) {
	if !key.usable() {
		return nil, cryptoDomain.ErrKeyAccessFailed
	}

	var reason string
	switch {
	case len(nonce) != cryptoDomain.NonceSize:
		reason = "malformed nonce"
	case len(ciphertext) < cryptoDomain.TagSize:
		reason = "ciphertext shorter than tag"
	}
	if reason != "" {
		e.logger.Debug("decryption rejected", slog.String("alias", key.alias), slog.String("reason", reason))
		return nil, cryptoDomain.ErrAuthenticationFailed
	}

	plaintext, err := key.aead.Decrypt(ciphertext, nonce, []byte(key.alias))
	if err != nil {
		e.logger.Debug("decryption rejected",
			slog.String("alias", key.alias),
			slog.String("reason", "tag verification failed"),
		)
		return nil, cryptoDomain.ErrAuthenticationFailed
	}
	return plaintext, nil
}
