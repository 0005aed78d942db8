package usecase

import (
	"context"
	"time"

	"github.com/allisson/safestring/internal/metrics"
)

const metricsDomain = "vault"

// vaultUseCaseWithMetrics decorates VaultUseCase with metrics instrumentation.
type vaultUseCaseWithMetrics struct {
	next    VaultUseCase
	metrics metrics.BusinessMetrics
}

// NewVaultUseCaseWithMetrics wraps a VaultUseCase with metrics recording.
func NewVaultUseCaseWithMetrics(useCase VaultUseCase, m metrics.BusinessMetrics) VaultUseCase {
	return &vaultUseCaseWithMetrics{
		next:    useCase,
		metrics: m,
	}
}

func (v *vaultUseCaseWithMetrics) record(ctx context.Context, operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	v.metrics.RecordOperation(ctx, metricsDomain, operation, status)
	v.metrics.RecordDuration(ctx, metricsDomain, operation, time.Since(start), status)
}

// Save records metrics for save operations.
func (v *vaultUseCaseWithMetrics) Save(ctx context.Context, name string, value []byte) error {
	start := time.Now()
	err := v.next.Save(ctx, name, value)
	v.record(ctx, "entry_save", start, err)
	return err
}

// Retrieve records metrics for retrieve operations.
func (v *vaultUseCaseWithMetrics) Retrieve(ctx context.Context, name string) ([]byte, error) {
	start := time.Now()
	value, err := v.next.Retrieve(ctx, name)
	v.record(ctx, "entry_retrieve", start, err)
	return value, err
}

// List records metrics for list operations.
func (v *vaultUseCaseWithMetrics) List(ctx context.Context) ([]string, error) {
	start := time.Now()
	names, err := v.next.List(ctx)
	v.record(ctx, "entry_list", start, err)
	return names, err
}

// Delete records metrics for delete operations.
func (v *vaultUseCaseWithMetrics) Delete(ctx context.Context, name string) error {
	start := time.Now()
	err := v.next.Delete(ctx, name)
	v.record(ctx, "entry_delete", start, err)
	return err
}
