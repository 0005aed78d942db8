package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	vaultUseCase "github.com/allisson/safestring/internal/vault/usecase"
)

// RunReconcile runs a single reconciliation pass, removing keys whose entry no longer
// exists and that are older than the configured grace period.
func RunReconcile(
	ctx context.Context,
	reconciler vaultUseCase.Reconciler,
	logger *slog.Logger,
	writer io.Writer,
	format string,
) error {
	logger.Info("reconciling entry keys")

	removed, err := reconciler.ReconcileOnce(ctx)
	if err != nil {
		return fmt.Errorf("failed to reconcile keys: %w", err)
	}

	if format == "json" {
		return writeJSON(writer, map[string]int{"orphan_keys_removed": removed})
	}

	_, err = fmt.Fprintf(writer, "Removed %d orphan key(s)\n", removed)
	return err
}
