// Package mocks provides mock implementations for testing HTTP middleware.
package mocks

import (
	"github.com/stretchr/testify/mock"
)

// MockUnlockTokenService is a mock implementation of UnlockTokenService for testing.
type MockUnlockTokenService struct {
	mock.Mock
}

// GenerateToken mocks the GenerateToken method of UnlockTokenService.
func (m *MockUnlockTokenService) GenerateToken() (string, string, error) {
	args := m.Called()
	return args.String(0), args.String(1), args.Error(2)
}

// HashToken mocks the HashToken method of UnlockTokenService.
func (m *MockUnlockTokenService) HashToken(plainToken string) (string, error) {
	args := m.Called(plainToken)
	return args.String(0), args.Error(1)
}

// VerifyToken mocks the VerifyToken method of UnlockTokenService.
func (m *MockUnlockTokenService) VerifyToken(plainToken string, tokenHash string) bool {
	args := m.Called(plainToken, tokenHash)
	return args.Bool(0)
}
