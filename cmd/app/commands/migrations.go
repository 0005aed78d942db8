package commands

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/allisson/safestring/internal/database"
)

// RunMigrations applies every pending migration for driver. Running it against an
// up-to-date schema is a no-op.
func RunMigrations(logger *slog.Logger, db *sql.DB, driver string) error {
	logger.Info("running database migrations", slog.String("driver", driver))

	version, err := database.Migrate(db, driver)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logger.Info("migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}
