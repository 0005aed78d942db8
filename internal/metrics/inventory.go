package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Inventory is a point-in-time count of what the vault stores.
type Inventory struct {
	Entries int
	Keys    int
}

// InventoryFunc counts stored entries and keys. It runs once per scrape.
type InventoryFunc func(ctx context.Context) (Inventory, error)

// RegisterInventory exports the vault's entry and key counts as gauges observed at scrape
// time, e.g. safestring_entries and safestring_keys. A failing count skips both gauges for
// that scrape.
func RegisterInventory(meterProvider metric.MeterProvider, namespace string, count InventoryFunc) error {
	meter := meterProvider.Meter(namespace)

	entries, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_entries", namespace),
		metric.WithDescription("Entries currently stored"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create entry gauge: %w", err)
	}

	keys, err := meter.Int64ObservableGauge(
		fmt.Sprintf("%s_keys", namespace),
		metric.WithDescription("Entry keys currently stored"),
		metric.WithUnit("{key}"),
	)
	if err != nil {
		return fmt.Errorf("failed to create key gauge: %w", err)
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		inv, err := count(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(entries, int64(inv.Entries))
		o.ObserveInt64(keys, int64(inv.Keys))
		return nil
	}, entries, keys)
	if err != nil {
		return fmt.Errorf("failed to register inventory callback: %w", err)
	}
	return nil
}
