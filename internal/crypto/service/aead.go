package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// AESGCMCipher implements AEAD with AES-256-GCM (AES in Galois/Counter Mode).
//
// It is the default algorithm for both entry values and wrapped entry keys. Most server
// CPUs accelerate AES in hardware, which makes it the faster choice there.
//
// Format:
//   - 32-byte key (AES-256)
//   - 12-byte nonce, read from crypto/rand for every Encrypt call
//   - 16-byte authentication tag appended to the ciphertext
//
// The vault passes the entry name as AAD when sealing a value and the key alias when
// wrapping a key. A ciphertext moved to another name, or a wrapped key moved to another
// alias, therefore fails to open.
//
// Thread safety:
//
//	The instance is stateless and safe for concurrent use. Random nonces keep the
//	collision risk negligible well past the number of writes a single key sees.
//
// Example usage:
//
//	cipher, err := NewAESGCM(key)
//	if err != nil {
//	    return err
//	}
//	ciphertext, nonce, err := cipher.Encrypt([]byte("s3cr3t"), []byte("api_token"))
//	// ... store ciphertext and nonce together ...
//	plaintext, err := cipher.Decrypt(ciphertext, nonce, []byte("api_token"))
type AESGCMCipher struct {
	aead cipher.AEAD
}

// NewAESGCM creates an AES-256-GCM cipher bound to key.
//
// The key must be exactly 32 bytes; any other length returns ErrInvalidKeySize before the
// AES block is built. The key is copied into the cipher's expanded schedule, so the caller
// may wipe its slice once NewAESGCM returns.
//
// Returns an error wrapping the underlying failure if the AES block or the GCM mode
// cannot be created.
func NewAESGCM(key []byte) (*AESGCMCipher, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCMCipher{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated nonce, authenticating aad.
//
// The returned ciphertext carries the 16-byte tag at its end. The nonce is not secret but
// must be stored with the ciphertext: Decrypt needs it.
func (a *AESGCMCipher) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	return seal(a.aead, plaintext, aad)
}

// Decrypt opens ciphertext with the nonce and aad used at encryption time.
//
// A wrong key, a modified ciphertext, tag or nonce, or a different aad all fail with the
// same error; GCM cannot tell them apart. A nonce of the wrong length is rejected before
// opening.
func (a *AESGCMCipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	return open(a.aead, ciphertext, nonce, aad)
}

// ChaCha20Poly1305Cipher implements AEAD with ChaCha20-Poly1305 (RFC 8439).
//
// It is selected with the chacha20-poly1305 algorithm and outperforms AES-GCM on CPUs
// without AES instructions, such as small ARM boards. Its sizes match AESGCMCipher:
// 32-byte key, 12-byte random nonce and 16-byte tag. Entries written under one algorithm
// stay readable after the configured default changes, because every wrapped key records
// its own algorithm.
//
// The instance is stateless and safe for concurrent use.
type ChaCha20Poly1305Cipher struct {
	aead cipher.AEAD
}

// NewChaCha20Poly1305 creates a ChaCha20-Poly1305 cipher bound to key.
//
// The key must be exactly 32 bytes. Other lengths are reported by
// golang.org/x/crypto/chacha20poly1305 and returned wrapped. Callers going through
// AEADManagerService get ErrInvalidKeySize instead.
func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create ChaCha20-Poly1305 cipher: %w", err)
	}

	return &ChaCha20Poly1305Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a freshly generated nonce, authenticating aad. The tag is
// appended to the returned ciphertext.
func (c *ChaCha20Poly1305Cipher) Encrypt(plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	return seal(c.aead, plaintext, aad)
}

// Decrypt opens ciphertext with the nonce and aad used at encryption time.
func (c *ChaCha20Poly1305Cipher) Decrypt(ciphertext, nonce, aad []byte) ([]byte, error) {
	return open(c.aead, ciphertext, nonce, aad)
}

func seal(aead cipher.AEAD, plaintext, aad []byte) ([]byte, []byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nil, nonce, plaintext, aad), nonce, nil
}

func open(aead cipher.AEAD, ciphertext, nonce, aad []byte) ([]byte, error) {
	// cipher.AEAD.Open panics on a nonce of the wrong size.
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("failed to decrypt: nonce must be %d bytes", aead.NonceSize())
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

// AEADManagerService builds AEAD ciphers by algorithm.
//
// It is the single place that maps a cryptoDomain.Algorithm to an implementation. The key
// provider uses it twice per key: once with the master key to wrap or unwrap the entry
// key, and once with the unwrapped entry key to build the cipher behind a KeyHandle.
//
// Supported algorithms:
//   - cryptoDomain.AESGCM: AESGCMCipher
//   - cryptoDomain.ChaCha20: ChaCha20Poly1305Cipher
type AEADManagerService struct{}

// NewAEADManager creates a new AEADManagerService. It holds no state and can be shared.
func NewAEADManager() *AEADManagerService {
	return &AEADManagerService{}
}

// CreateCipher returns the cipher for alg bound to key.
//
// The key length is checked first, so both algorithms report a bad key as
// ErrInvalidKeySize. An unknown algorithm, for example one read from a corrupted wrapped
// key record, returns an error wrapping ErrUnsupportedAlgorithm.
func (am *AEADManagerService) CreateCipher(key []byte, alg cryptoDomain.Algorithm) (AEAD, error) {
	if len(key) != cryptoDomain.KeySize {
		return nil, cryptoDomain.ErrInvalidKeySize
	}

	switch alg {
	case cryptoDomain.AESGCM:
		return NewAESGCM(key)
	case cryptoDomain.ChaCha20:
		return NewChaCha20Poly1305(key)
	default:
		return nil, fmt.Errorf("%w: %s", cryptoDomain.ErrUnsupportedAlgorithm, alg)
	}
}
