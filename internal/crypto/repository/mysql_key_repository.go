package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	apperrors "github.com/allisson/safestring/internal/errors"
)

// MySQLKeyRepository implements wrapped key persistence for MySQL.
// The table name is quoted because KEYS is a reserved word in MySQL.
type MySQLKeyRepository struct {
	db *sql.DB
}

// NewMySQLKeyRepository creates a new MySQL key repository.
func NewMySQLKeyRepository(db *sql.DB) *MySQLKeyRepository {
	return &MySQLKeyRepository{db: db}
}

// Create inserts a wrapped key. A duplicate alias returns ErrConflict.
func (m *MySQLKeyRepository) Create(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	query := "INSERT INTO `keys` (alias, master_key_id, algorithm, encrypted_key, nonce, created_at) " +
		"VALUES (?, ?, ?, ?, ?, ?)"

	_, err := m.db.ExecContext(
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
		// Check for duplicate entry error (MySQL error number 1062)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return apperrors.Wrap(apperrors.ErrConflict, "key already exists")
		}
		return apperrors.Wrap(err, "failed to create key")
	}
	return nil
}

// Get retrieves the wrapped key for alias.
func (m *MySQLKeyRepository) Get(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	query := "SELECT alias, master_key_id, algorithm, encrypted_key, nonce, created_at " +
		"FROM `keys` WHERE alias = ?"

	return scanWrappedKey(m.db.QueryRowContext(ctx, query, alias))
}

// Delete removes the wrapped key for alias.
func (m *MySQLKeyRepository) Delete(ctx context.Context, alias string) error {
	if _, err := m.db.ExecContext(ctx, "DELETE FROM `keys` WHERE alias = ?", alias); err != nil {
		return apperrors.Wrap(err, "failed to delete key")
	}
	return nil
}

// DeleteVersion removes the wrapped key for alias only while its nonce matches.
func (m *MySQLKeyRepository) DeleteVersion(ctx context.Context, alias string, nonce []byte) (bool, error) {
	result, err := m.db.ExecContext(ctx, "DELETE FROM `keys` WHERE alias = ? AND nonce = ?", alias, nonce)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to delete key")
	}
	return rowsDeleted(result)
}

// List returns every stored key ordered by alias.
func (m *MySQLKeyRepository) List(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	return queryKeyInfos(ctx, m.db, "SELECT alias, master_key_id, algorithm, created_at FROM `keys` ORDER BY alias")
}
