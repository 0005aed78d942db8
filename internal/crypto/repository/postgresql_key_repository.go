// Package repository implements persistence of wrapped entry keys.
//
// Every implementation stores only the wrapped form of a key (encrypted under a master
// key). Alias is the primary key, so concurrent creation of the same alias by several
// processes yields exactly one row and an ErrConflict for the losers.
//
// Backends: PostgreSQL, MySQL, SQLite and gocloud.dev blob buckets.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	apperrors "github.com/allisson/safestring/internal/errors"
)

// PostgreSQLKeyRepository implements wrapped key persistence for PostgreSQL.
type PostgreSQLKeyRepository struct {
	db *sql.DB
}

// NewPostgreSQLKeyRepository creates a new PostgreSQL key repository.
func NewPostgreSQLKeyRepository(db *sql.DB) *PostgreSQLKeyRepository {
	return &PostgreSQLKeyRepository{db: db}
}

// Create inserts a wrapped key. A duplicate alias returns ErrConflict.
func (p *PostgreSQLKeyRepository) Create(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	query := `INSERT INTO keys (alias, master_key_id, algorithm, encrypted_key, nonce, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := p.db.ExecContext(
		ctx,
		query,
		key.Alias,
		key.MasterKeyID,
		string(key.Algorithm),
		key.EncryptedKey,
		key.Nonce,
		key.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return apperrors.Wrap(apperrors.ErrConflict, "key already exists")
		}
		return apperrors.Wrap(err, "failed to create key")
	}
	return nil
}

// Get retrieves the wrapped key for alias.
func (p *PostgreSQLKeyRepository) Get(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	query := `SELECT alias, master_key_id, algorithm, encrypted_key, nonce, created_at
			  FROM keys WHERE alias = $1`

	return scanWrappedKey(p.db.QueryRowContext(ctx, query, alias))
}

// Delete removes the wrapped key for alias.
func (p *PostgreSQLKeyRepository) Delete(ctx context.Context, alias string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM keys WHERE alias = $1`, alias); err != nil {
		return apperrors.Wrap(err, "failed to delete key")
	}
	return nil
}

// DeleteVersion removes the wrapped key for alias only while its nonce matches.
func (p *PostgreSQLKeyRepository) DeleteVersion(ctx context.Context, alias string, nonce []byte) (bool, error) {
	result, err := p.db.ExecContext(ctx, `DELETE FROM keys WHERE alias = $1 AND nonce = $2`, alias, nonce)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to delete key")
	}
	return rowsDeleted(result)
}

// List returns every stored key ordered by alias.
func (p *PostgreSQLKeyRepository) List(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	query := `SELECT alias, master_key_id, algorithm, created_at
			  FROM keys ORDER BY alias COLLATE "C"`

	return queryKeyInfos(ctx, p.db, query)
}

func scanWrappedKey(row *sql.Row) (*cryptoDomain.WrappedKey, error) {
	var key cryptoDomain.WrappedKey
	var algorithm string

	err := row.Scan(
		&key.Alias,
		&key.MasterKeyID,
		&algorithm,
		&key.EncryptedKey,
		&key.Nonce,
		&key.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, cryptoDomain.ErrKeyNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get key")
	}

	key.Algorithm = cryptoDomain.Algorithm(algorithm)
	return &key, nil
}

func queryKeyInfos(ctx context.Context, db *sql.DB, query string) ([]cryptoDomain.WrappedKeyInfo, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list keys")
	}
	defer func() {
		_ = rows.Close()
	}()

	infos := make([]cryptoDomain.WrappedKeyInfo, 0)
	for rows.Next() {
		var info cryptoDomain.WrappedKeyInfo
		var algorithm string
		if err := rows.Scan(&info.Alias, &info.MasterKeyID, &algorithm, &info.CreatedAt); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan key")
		}
		info.Algorithm = cryptoDomain.Algorithm(algorithm)
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate keys")
	}
	return infos, nil
}

func rowsDeleted(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to delete key")
	}
	return n > 0, nil
}
