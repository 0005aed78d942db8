// Package service provides the unlock token service used by the HTTP unlock gate.
package service

// UnlockTokenService generates, hashes and verifies unlock tokens.
//
// Only the Argon2id hash of a token is configured on the server. The plain token is shown
// once, when generated, and sent by callers in the X-Unlock-Token header.
type UnlockTokenService interface {
	// GenerateToken creates a new random token and returns it with its hash.
	GenerateToken() (plainToken string, tokenHash string, err error)

	// HashToken hashes a plain token using Argon2id.
	HashToken(plainToken string) (tokenHash string, err error)

	// VerifyToken reports whether plainToken matches tokenHash.
	VerifyToken(plainToken string, tokenHash string) bool
}
