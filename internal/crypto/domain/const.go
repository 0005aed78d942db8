package domain

import "fmt"

// Algorithm represents the cryptographic algorithm used for encryption.
//
// All supported algorithms provide Authenticated Encryption with Associated Data (AEAD),
// ensuring both confidentiality and authenticity of encrypted data. Both use a 256-bit
// key, a 96-bit nonce and a 128-bit authentication tag.
//
// Algorithm selection guidelines:
//   - Use AESGCM on modern CPUs with AES-NI hardware acceleration
//   - Use ChaCha20 on systems without AES-NI
type Algorithm string

const (
	// AESGCM represents the AES-256-GCM authenticated encryption algorithm.
	// It is the default algorithm for entry keys.
	AESGCM Algorithm = "aes-gcm"

	// ChaCha20 represents the ChaCha20-Poly1305 authenticated encryption algorithm.
	ChaCha20 Algorithm = "chacha20-poly1305"
)

const (
	// KeySize is the size in bytes of every symmetric key (master and entry keys).
	KeySize = 32

	// NonceSize is the size in bytes of the nonce generated for every encryption.
	NonceSize = 12

	// TagSize is the size in bytes of the authentication tag appended to ciphertexts.
	TagSize = 16

	// KeyAliasPrefix is prepended to an entry name to form the alias of its key.
	KeyAliasPrefix = "key_"
)

// KeyAlias returns the alias of the key that protects the entry with the given name.
func KeyAlias(name string) string {
	return KeyAliasPrefix + name
}

// ParseAlgorithm converts a configuration string into an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case AESGCM:
		return AESGCM, nil
	case ChaCha20:
		return ChaCha20, nil
	default:
		return "", fmt.Errorf(
			"%w: %s (valid options: aes-gcm, chacha20-poly1305)",
			ErrUnsupportedAlgorithm,
			s,
		)
	}
}
