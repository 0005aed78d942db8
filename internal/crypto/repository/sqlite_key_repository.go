package repository

import (
	"context"
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	apperrors "github.com/allisson/safestring/internal/errors"
)

// SQLiteKeyRepository implements wrapped key persistence for SQLite.
type SQLiteKeyRepository struct {
	db *sql.DB
}

// NewSQLiteKeyRepository creates a new SQLite key repository.
func NewSQLiteKeyRepository(db *sql.DB) *SQLiteKeyRepository {
	return &SQLiteKeyRepository{db: db}
}

// Create inserts a wrapped key. A duplicate alias returns ErrConflict.
func (s *SQLiteKeyRepository) Create(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	query := `INSERT INTO keys (alias, master_key_id, algorithm, encrypted_key, nonce, created_at)
			  VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(
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
		if isSQLiteKeyViolation(err) {
			return apperrors.Wrap(apperrors.ErrConflict, "key already exists")
		}
		return apperrors.Wrap(err, "failed to create key")
	}
	return nil
}

// Get retrieves the wrapped key for alias.
func (s *SQLiteKeyRepository) Get(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	query := `SELECT alias, master_key_id, algorithm, encrypted_key, nonce, created_at
			  FROM keys WHERE alias = ?`

	return scanWrappedKey(s.db.QueryRowContext(ctx, query, alias))
}

// Delete removes the wrapped key for alias.
func (s *SQLiteKeyRepository) Delete(ctx context.Context, alias string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE alias = ?`, alias); err != nil {
		return apperrors.Wrap(err, "failed to delete key")
	}
	return nil
}

// DeleteVersion removes the wrapped key for alias only while its nonce matches.
func (s *SQLiteKeyRepository) DeleteVersion(ctx context.Context, alias string, nonce []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE alias = ? AND nonce = ?`, alias, nonce)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to delete key")
	}
	return rowsDeleted(result)
}

// List returns every stored key ordered by alias.
func (s *SQLiteKeyRepository) List(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	return queryKeyInfos(ctx, s.db, `SELECT alias, master_key_id, algorithm, created_at FROM keys ORDER BY alias`)
}

// isSQLiteKeyViolation reports a primary key or unique constraint failure. The primary
// result code is accepted too for connections without extended result codes.
func isSQLiteKeyViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT:
		return true
	}
	return false
}
