package service

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"sync"

	"github.com/allisson/go-pwdhash"

	apperrors "github.com/allisson/safestring/internal/errors"
)

// tokenSize is the number of random bytes in a generated token.
const tokenSize = 32

// unlockTokenService implements UnlockTokenService using Argon2id.
//
// Argon2id verification is slow on purpose, so successful verifications are remembered by
// the SHA-256 digest of token and hash. Failed attempts are never remembered.
type unlockTokenService struct {
	hasher   *pwdhash.PasswordHasher
	verified sync.Map // map[[32]byte]struct{}
}

// GenerateToken creates a new cryptographically secure 32-byte random token, base64 URL-encoded.
func (s *unlockTokenService) GenerateToken() (string, string, error) {
	randomBytes := make([]byte, tokenSize)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", apperrors.Wrap(err, "failed to generate random token")
	}

	plainToken := base64.RawURLEncoding.EncodeToString(randomBytes)

	tokenHash, err := s.HashToken(plainToken)
	if err != nil {
		return "", "", err
	}

	return plainToken, tokenHash, nil
}

// HashToken hashes a plain token using Argon2id.
func (s *unlockTokenService) HashToken(plainToken string) (string, error) {
	if plainToken == "" {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "unlock token is empty")
	}

	tokenHash, err := s.hasher.Hash([]byte(plainToken))
	if err != nil {
		return "", apperrors.Wrap(err, "failed to hash unlock token")
	}
	return tokenHash, nil
}

// VerifyToken compares a plain token against its hash in constant time.
func (s *unlockTokenService) VerifyToken(plainToken string, tokenHash string) bool {
	if plainToken == "" || tokenHash == "" {
		return false
	}

	digest := sha256.Sum256([]byte(plainToken + "\x00" + tokenHash))
	if _, ok := s.verified.Load(digest); ok {
		return true
	}

	ok, err := s.hasher.Verify([]byte(plainToken), tokenHash)
	if err != nil || !ok {
		return false
	}

	s.verified.Store(digest, struct{}{})
	return true
}

// NewUnlockTokenService creates a new UnlockTokenService using the Moderate Argon2id policy.
func NewUnlockTokenService() UnlockTokenService {
	hasher, err := pwdhash.New(
		pwdhash.WithPolicy(pwdhash.PolicyModerate),
	)
	if err != nil {
		// Only reachable with an invalid built-in policy.
		panic(err)
	}

	return &unlockTokenService{
		hasher: hasher,
	}
}
