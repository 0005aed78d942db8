package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
	apperrors "github.com/allisson/safestring/internal/errors"
	"github.com/allisson/safestring/internal/metrics"
)

// ReconcilerConfig holds reconciler configuration.
type ReconcilerConfig struct {
	// GracePeriod protects keys created by a save that has not yet written its entry.
	GracePeriod time.Duration
}

// reconciler removes keys whose entry no longer exists, left behind when a delete removed
// the entry but failed to remove the key.
type reconciler struct {
	config      ReconcilerConfig
	entryRepo   EntryRepository
	keyProvider cryptoService.KeyProvider
	locker      *NameLocker
	metrics     metrics.BusinessMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// NewReconciler creates a new Reconciler sharing the vault's name locker.
func NewReconciler(
	config ReconcilerConfig,
	entryRepo EntryRepository,
	keyProvider cryptoService.KeyProvider,
	locker *NameLocker,
	m metrics.BusinessMetrics,
	logger *slog.Logger,
) Reconciler {
	return &reconciler{
		config:      config,
		entryRepo:   entryRepo,
		keyProvider: keyProvider,
		locker:      locker,
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Start runs ReconcileOnce on every tick until ctx is cancelled.
func (r *reconciler) Start(ctx context.Context, interval time.Duration) error {
	r.logger.Info("starting key reconciler",
		slog.Duration("interval", interval),
		slog.Duration("grace_period", r.config.GracePeriod),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("stopping key reconciler")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ReconcileOnce(ctx); err != nil {
				r.logger.Error("failed to reconcile keys", slog.Any("error", err))
			}
		}
	}
}

// ReconcileOnce deletes orphan keys older than the grace period and reports entries whose
// key is missing. Each orphan is re-checked under the name lock before removal.
func (r *reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	names, err := r.entryRepo.List(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to list entries")
	}

	keys, err := r.keyProvider.ListAliases(ctx)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to list keys")
	}

	stored := make(map[string]struct{}, len(names))
	for _, name := range names {
		stored[name] = struct{}{}
	}

	cutoff := r.now().Add(-r.config.GracePeriod)
	keyed := make(map[string]struct{}, len(keys))
	removed := 0

	for _, info := range keys {
		name, ok := strings.CutPrefix(info.Alias, cryptoDomain.KeyAliasPrefix)
		if !ok {
			continue
		}
		keyed[name] = struct{}{}

		if _, exists := stored[name]; exists || info.CreatedAt.After(cutoff) {
			continue
		}

		deleted, err := r.removeOrphan(ctx, name, info.Alias, cutoff)
		if err != nil {
			return removed, err
		}
		if deleted {
			removed++
		}
	}

	missing := 0
	for _, name := range names {
		if _, ok := keyed[name]; !ok {
			missing++
			r.logger.Warn("entry has no key", slog.String("name", name))
		}
	}

	r.metrics.RecordReconciliation(ctx, removed, missing)
	if removed > 0 || missing > 0 {
		r.logger.Info("keys reconciled",
			slog.Int("orphan_keys_removed", removed),
			slog.Int("entries_without_key", missing),
		)
	}

	return removed, nil
}

// removeOrphan deletes the key for name if it has no entry. Only the exact key version
// inspected is deleted, and the entry is checked again afterwards: a save running in
// another process may have written an entry under that key in between, and then the key
// is put back.
func (r *reconciler) removeOrphan(ctx context.Context, name, alias string, cutoff time.Time) (bool, error) {
	unlock := r.locker.Lock(name)
	defer unlock()

	// A save may have completed between listing and locking.
	exists, err := r.entryExists(ctx, name)
	if err != nil || exists {
		return false, err
	}

	key, err := r.keyProvider.GetWrappedKey(ctx, alias)
	if err != nil {
		if apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	// Recreated since listing.
	if key.CreatedAt.After(cutoff) {
		return false, nil
	}

	deleted, err := r.keyProvider.DeleteKeyVersion(ctx, key)
	if err != nil || !deleted {
		return false, err
	}

	exists, err = r.entryExists(ctx, name)
	if err == nil && !exists {
		r.logger.Info("orphan key removed", slog.String("alias", alias))
		return true, nil
	}

	if restoreErr := r.keyProvider.RestoreKey(ctx, key); restoreErr != nil {
		if !apperrors.Is(restoreErr, apperrors.ErrConflict) {
			return false, errors.Join(err, restoreErr)
		}
		r.logger.Info("orphan key recreated concurrently", slog.String("alias", alias))
	} else {
		r.logger.Info("orphan key restored, entry was written concurrently", slog.String("alias", alias))
	}
	return false, err
}

func (r *reconciler) entryExists(ctx context.Context, name string) (bool, error) {
	_, err := r.entryRepo.Get(ctx, name)
	if err == nil {
		return true, nil
	}
	if apperrors.Is(err, apperrors.ErrNotFound) {
		return false, nil
	}
	return false, apperrors.Wrap(err, "failed to check entry")
}
