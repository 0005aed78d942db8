package repository

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

// SQLiteEntryRepository implements entry persistence for SQLite, the default local store.
type SQLiteEntryRepository struct {
	db *sql.DB
}

// NewSQLiteEntryRepository creates a new SQLite entry repository.
func NewSQLiteEntryRepository(db *sql.DB) *SQLiteEntryRepository {
	return &SQLiteEntryRepository{db: db}
}

// Put inserts or replaces the entry in a single statement, keeping created_at.
func (s *SQLiteEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	query := `INSERT INTO entries (name, ciphertext, nonce, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON CONFLICT(name) DO UPDATE SET
			  ciphertext = excluded.ciphertext,
			  nonce = excluded.nonce,
			  updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(
		ctx,
		query,
		entry.Name,
		entry.Ciphertext,
		entry.Nonce,
		entry.CreatedAt,
		entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", vaultDomain.ErrStorageWriteFailed, err)
	}
	return nil
}

// Get retrieves the entry stored under name.
func (s *SQLiteEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	query := `SELECT name, ciphertext, nonce, created_at, updated_at FROM entries WHERE name = ?`

	return scanEntry(s.db.QueryRowContext(ctx, query, name))
}

// List returns every entry name in byte order.
func (s *SQLiteEntryRepository) List(ctx context.Context) ([]string, error) {
	return queryNames(ctx, s.db, `SELECT name FROM entries ORDER BY name`)
}

// Delete removes the entry stored under name.
func (s *SQLiteEntryRepository) Delete(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE name = ?`, name); err != nil {
		return apperrors.Wrap(err, "failed to delete entry")
	}
	return nil
}

// Ping checks database connectivity.
func (s *SQLiteEntryRepository) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
