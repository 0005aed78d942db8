package repository

import (
	"context"
	"database/sql"
	"fmt"

	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

// MySQLEntryRepository implements entry persistence for MySQL.
// The DSN must enable parseTime so timestamps scan into time.Time.
type MySQLEntryRepository struct {
	db *sql.DB
}

// NewMySQLEntryRepository creates a new MySQL entry repository.
func NewMySQLEntryRepository(db *sql.DB) *MySQLEntryRepository {
	return &MySQLEntryRepository{db: db}
}

// Put inserts or replaces the entry in a single statement, keeping created_at.
func (m *MySQLEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	query := `INSERT INTO entries (name, ciphertext, nonce, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?)
			  ON DUPLICATE KEY UPDATE
			  ciphertext = VALUES(ciphertext),
			  nonce = VALUES(nonce),
			  updated_at = VALUES(updated_at)`

	_, err := m.db.ExecContext(
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
func (m *MySQLEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	query := `SELECT name, ciphertext, nonce, created_at, updated_at FROM entries WHERE name = ?`

	return scanEntry(m.db.QueryRowContext(ctx, query, name))
}

// List returns every entry name in byte order.
func (m *MySQLEntryRepository) List(ctx context.Context) ([]string, error) {
	return queryNames(ctx, m.db, `SELECT name FROM entries ORDER BY name`)
}

// Delete removes the entry stored under name.
func (m *MySQLEntryRepository) Delete(ctx context.Context, name string) error {
	if _, err := m.db.ExecContext(ctx, `DELETE FROM entries WHERE name = ?`, name); err != nil {
		return apperrors.Wrap(err, "failed to delete entry")
	}
	return nil
}

// Ping checks database connectivity.
func (m *MySQLEntryRepository) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
