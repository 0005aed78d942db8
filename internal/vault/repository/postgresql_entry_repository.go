// Package repository implements entry persistence for the vault.
//
// An entry is a single row (or a single blob object) holding ciphertext and nonce, so a
// write makes both visible together and a read can never observe one without the other.
// Supports PostgreSQL, MySQL, SQLite and gocloud.dev blob buckets.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

// PostgreSQLEntryRepository implements entry persistence for PostgreSQL.
type PostgreSQLEntryRepository struct {
	db *sql.DB
}

// NewPostgreSQLEntryRepository creates a new PostgreSQL entry repository.
func NewPostgreSQLEntryRepository(db *sql.DB) *PostgreSQLEntryRepository {
	return &PostgreSQLEntryRepository{db: db}
}

// Put inserts the entry or replaces ciphertext and nonce of an existing one in a single
// statement. created_at of an existing entry is preserved.
func (p *PostgreSQLEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	query := `INSERT INTO entries (name, ciphertext, nonce, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5)
			  ON CONFLICT (name) DO UPDATE SET
			  ciphertext = EXCLUDED.ciphertext,
			  nonce = EXCLUDED.nonce,
			  updated_at = EXCLUDED.updated_at`

	_, err := p.db.ExecContext(
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
func (p *PostgreSQLEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	query := `SELECT name, ciphertext, nonce, created_at, updated_at FROM entries WHERE name = $1`

	return scanEntry(p.db.QueryRowContext(ctx, query, name))
}

// List returns every entry name in byte order.
func (p *PostgreSQLEntryRepository) List(ctx context.Context) ([]string, error) {
	return queryNames(ctx, p.db, `SELECT name FROM entries ORDER BY name COLLATE "C"`)
}

// Delete removes the entry stored under name.
func (p *PostgreSQLEntryRepository) Delete(ctx context.Context, name string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM entries WHERE name = $1`, name); err != nil {
		return apperrors.Wrap(err, "failed to delete entry")
	}
	return nil
}

// Ping checks database connectivity.
func (p *PostgreSQLEntryRepository) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func scanEntry(row *sql.Row) (*vaultDomain.Entry, error) {
	var entry vaultDomain.Entry

	err := row.Scan(
		&entry.Name,
		&entry.Ciphertext,
		&entry.Nonce,
		&entry.CreatedAt,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, vaultDomain.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get entry")
	}
	return &entry, nil
}

func queryNames(ctx context.Context, db *sql.DB, query string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list entries")
	}
	defer func() {
		_ = rows.Close()
	}()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan entry name")
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate entries")
	}
	return names, nil
}
