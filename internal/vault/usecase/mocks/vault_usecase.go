// Package mocks provides mock implementations of the vault use cases for handler and
// command tests.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockVaultUseCase is a mock implementation of VaultUseCase.
type MockVaultUseCase struct {
	mock.Mock
}

// Save mocks the Save method of VaultUseCase.
func (m *MockVaultUseCase) Save(ctx context.Context, name string, value []byte) error {
	args := m.Called(ctx, name, value)
	return args.Error(0)
}

// Retrieve mocks the Retrieve method of VaultUseCase.
func (m *MockVaultUseCase) Retrieve(ctx context.Context, name string) ([]byte, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// List mocks the List method of VaultUseCase.
func (m *MockVaultUseCase) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// Delete mocks the Delete method of VaultUseCase.
func (m *MockVaultUseCase) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

// MockReconciler is a mock implementation of Reconciler.
type MockReconciler struct {
	mock.Mock
}

// ReconcileOnce mocks the ReconcileOnce method of Reconciler.
func (m *MockReconciler) ReconcileOnce(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

// Start mocks the Start method of Reconciler.
func (m *MockReconciler) Start(ctx context.Context, interval time.Duration) error {
	args := m.Called(ctx, interval)
	return args.Error(0)
}
