package metrics

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BusinessMetrics records vault operations and key reconciliation.
type BusinessMetrics interface {
	// RecordOperation counts one operation. Status is "success" or "error".
	// Example: RecordOperation(ctx, "vault", "entry_save", "success").
	RecordOperation(ctx context.Context, domain, operation, status string)

	// RecordDuration records how long an operation took, in seconds.
	RecordDuration(ctx context.Context, domain, operation string, duration time.Duration, status string)

	// RecordReconciliation records the outcome of one reconciliation pass.
	RecordReconciliation(ctx context.Context, orphanKeysRemoved, entriesWithoutKey int)
}

type businessMetrics struct {
	operationCounter  metric.Int64Counter
	durationHisto     metric.Float64Histogram
	orphanKeysCounter metric.Int64Counter
	keylessGauge      metric.Int64Gauge
}

// NewBusinessMetrics creates BusinessMetrics on the given meter provider.
// Metric names are prefixed with namespace, e.g. safestring_operations_total.
func NewBusinessMetrics(meterProvider metric.MeterProvider, namespace string) (BusinessMetrics, error) {
	meter := meterProvider.Meter(namespace)

	operationCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_operations_total", namespace),
		metric.WithDescription("Total number of vault operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation counter: %w", err)
	}

	durationHisto, err := meter.Float64Histogram(
		fmt.Sprintf("%s_operation_duration_seconds", namespace),
		metric.WithDescription("Duration of vault operations in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create duration histogram: %w", err)
	}

	orphanKeysCounter, err := meter.Int64Counter(
		fmt.Sprintf("%s_orphan_keys_removed_total", namespace),
		metric.WithDescription("Keys removed because their entry no longer exists"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create orphan key counter: %w", err)
	}

	keylessGauge, err := meter.Int64Gauge(
		fmt.Sprintf("%s_entries_without_key", namespace),
		metric.WithDescription("Entries whose key was missing at the last reconciliation"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create keyless entry gauge: %w", err)
	}

	return &businessMetrics{
		operationCounter:  operationCounter,
		durationHisto:     durationHisto,
		orphanKeysCounter: orphanKeysCounter,
		keylessGauge:      keylessGauge,
	}, nil
}

func operationAttributes(domain, operation, status string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("domain", domain),
		attribute.String("operation", operation),
		attribute.String("status", status),
	)
}

func (b *businessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {
	b.operationCounter.Add(ctx, 1, operationAttributes(domain, operation, status))
}

func (b *businessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
	b.durationHisto.Record(ctx, duration.Seconds(), operationAttributes(domain, operation, status))
}

func (b *businessMetrics) RecordReconciliation(ctx context.Context, orphanKeysRemoved, entriesWithoutKey int) {
	b.orphanKeysCounter.Add(ctx, int64(orphanKeysRemoved))
	b.keylessGauge.Record(ctx, int64(entriesWithoutKey))
}

// NoOpBusinessMetrics discards everything. Used when METRICS_ENABLED is false.
type NoOpBusinessMetrics struct{}

// NewNoOpBusinessMetrics creates a no-op BusinessMetrics implementation.
func NewNoOpBusinessMetrics() BusinessMetrics {
	return &NoOpBusinessMetrics{}
}

func (n *NoOpBusinessMetrics) RecordOperation(ctx context.Context, domain, operation, status string) {}

func (n *NoOpBusinessMetrics) RecordDuration(
	ctx context.Context,
	domain, operation string,
	duration time.Duration,
	status string,
) {
}

func (n *NoOpBusinessMetrics) RecordReconciliation(ctx context.Context, orphanKeysRemoved, entriesWithoutKey int) {
}
