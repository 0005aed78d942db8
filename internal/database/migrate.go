package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/allisson/safestring/migrations"
)

// migrationDir maps a driver to its directory inside migrations.FS.
func migrationDir(driver string) (string, error) {
	switch driver {
	case DriverPostgres:
		return "postgresql", nil
	case DriverMySQL:
		return "mysql", nil
	case DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}

// Migrate applies every pending up migration for driver on db.
// It returns the resulting schema version; ErrNoChange is not reported as an error.
func Migrate(db *sql.DB, driver string) (uint, error) {
	dir, err := migrationDir(driver)
	if err != nil {
		return 0, err
	}

	source, err := iofs.New(migrations.FS, dir)
	if err != nil {
		return 0, fmt.Errorf("failed to open migration source: %w", err)
	}

	var instance migratedb.Driver
	switch driver {
	case DriverPostgres:
		instance, err = postgres.WithInstance(db, &postgres.Config{})
	case DriverMySQL:
		instance, err = mysql.WithInstance(db, &mysql.Config{})
	case DriverSQLite:
		instance, err = sqlite.WithInstance(db, &sqlite.Config{})
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, instance)
	if err != nil {
		return 0, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("failed to read migration version: %w", err)
	}
	return version, nil
}
