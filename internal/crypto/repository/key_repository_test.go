package repository

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	"github.com/allisson/safestring/internal/crypto/service"
	apperrors "github.com/allisson/safestring/internal/errors"
	"github.com/allisson/safestring/internal/testutil"
)

func newWrappedKey(alias string) *cryptoDomain.WrappedKey {
	return &cryptoDomain.WrappedKey{
		Alias:        alias,
		MasterKeyID:  "master-key-1",
		Algorithm:    cryptoDomain.AESGCM,
		EncryptedKey: []byte("encrypted-key-data-0123456789abcdef0123456789ab"),
		Nonce:        []byte("nonce-123456"),
		CreatedAt:    time.Now().UTC().Truncate(time.Millisecond),
	}
}

// testKeyRepository exercises the behavior every KeyRepository must share.
func testKeyRepository(t *testing.T, repo service.KeyRepository) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		key := newWrappedKey("key_token")
		require.NoError(t, repo.Create(ctx, key))

		got, err := repo.Get(ctx, "key_token")
		require.NoError(t, err)
		assert.Equal(t, key.Alias, got.Alias)
		assert.Equal(t, key.MasterKeyID, got.MasterKeyID)
		assert.Equal(t, key.Algorithm, got.Algorithm)
		assert.Equal(t, key.EncryptedKey, got.EncryptedKey)
		assert.Equal(t, key.Nonce, got.Nonce)
		assert.WithinDuration(t, key.CreatedAt, got.CreatedAt, time.Second)
	})

	t.Run("duplicate alias conflicts", func(t *testing.T) {
		dup := newWrappedKey("key_token")
		dup.MasterKeyID = "other"
		err := repo.Create(ctx, dup)
		assert.ErrorIs(t, err, apperrors.ErrConflict)

		got, err := repo.Get(ctx, "key_token")
		require.NoError(t, err)
		assert.Equal(t, "master-key-1", got.MasterKeyID)
	})

	t.Run("concurrent creation yields one winner", func(t *testing.T) {
		var wg sync.WaitGroup
		results := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results <- repo.Create(ctx, newWrappedKey("key_race"))
			}()
		}
		wg.Wait()
		close(results)

		winners := 0
		for err := range results {
			if err == nil {
				winners++
				continue
			}
			assert.ErrorIs(t, err, apperrors.ErrConflict)
		}
		assert.Equal(t, 1, winners)
	})

	t.Run("get missing", func(t *testing.T) {
		_, err := repo.Get(ctx, "key_missing")
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyNotFound)
	})

	t.Run("aliases with special characters", func(t *testing.T) {
		for _, alias := range []string{"key_db/password", "key_with space", "key_ünïcødé"} {
			require.NoError(t, repo.Create(ctx, newWrappedKey(alias)))
			got, err := repo.Get(ctx, alias)
			require.NoError(t, err)
			assert.Equal(t, alias, got.Alias)
		}
	})

	t.Run("list sorted", func(t *testing.T) {
		infos, err := repo.List(ctx)
		require.NoError(t, err)
		var aliases []string
		for _, info := range infos {
			aliases = append(aliases, info.Alias)
			assert.Equal(t, "master-key-1", info.MasterKeyID)
			assert.Equal(t, cryptoDomain.AESGCM, info.Algorithm)
			assert.False(t, info.CreatedAt.IsZero())
		}
		assert.Equal(t, []string{
			"key_db/password",
			"key_race",
			"key_token",
			"key_with space",
			"key_ünïcødé",
		}, aliases)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, "key_token"))
		require.NoError(t, repo.Delete(ctx, "key_token"))
		_, err := repo.Get(ctx, "key_token")
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyNotFound)

		require.NoError(t, repo.Create(ctx, newWrappedKey("key_token")))
	})

	t.Run("delete version only removes the matching key", func(t *testing.T) {
		key := newWrappedKey("key_versioned")
		require.NoError(t, repo.Create(ctx, key))

		deleted, err := repo.DeleteVersion(ctx, "key_versioned", []byte("nonce-654321"))
		require.NoError(t, err)
		assert.False(t, deleted)
		_, err = repo.Get(ctx, "key_versioned")
		require.NoError(t, err)

		deleted, err = repo.DeleteVersion(ctx, "key_versioned", key.Nonce)
		require.NoError(t, err)
		assert.True(t, deleted)
		_, err = repo.Get(ctx, "key_versioned")
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyNotFound)

		deleted, err = repo.DeleteVersion(ctx, "key_versioned", key.Nonce)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}

func TestSQLiteKeyRepository(t *testing.T) {
	db := testutil.SetupSQLiteDB(t)
	defer testutil.TeardownDB(t, db)

	testKeyRepository(t, NewSQLiteKeyRepository(db))
}

func TestPostgreSQLKeyRepository(t *testing.T) {
	db := testutil.SetupPostgresDB(t)
	defer testutil.TeardownDB(t, db)

	testKeyRepository(t, NewPostgreSQLKeyRepository(db))
}

func TestMySQLKeyRepository(t *testing.T) {
	db := testutil.SetupMySQLDB(t)
	defer testutil.TeardownDB(t, db)

	testKeyRepository(t, NewMySQLKeyRepository(db))
}

func TestBlobKeyRepository(t *testing.T) {
	bucket := memblob.OpenBucket(nil)
	defer func() { assert.NoError(t, bucket.Close()) }()

	repo := NewBlobKeyRepository(bucket)
	testKeyRepository(t, repo)

	t.Run("alias longer than an object file name is invalid", func(t *testing.T) {
		err := repo.Create(context.Background(), newWrappedKey("key_"+strings.Repeat("n", 300)))
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})
}

func TestPostgreSQLKeyRepository_Errors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	repo := NewPostgreSQLKeyRepository(db)

	t.Run("unique violation maps to conflict", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO keys").WillReturnError(&pq.Error{Code: "23505"})
		err := repo.Create(ctx, newWrappedKey("key_a"))
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("other insert failure", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO keys").WillReturnError(errors.New("connection reset"))
		err := repo.Create(ctx, newWrappedKey("key_a"))
		assert.NotErrorIs(t, err, apperrors.ErrConflict)
		assert.ErrorContains(t, err, "failed to create key")
	})

	t.Run("get failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM keys").WillReturnError(errors.New("timeout"))
		_, err := repo.Get(ctx, "key_a")
		assert.NotErrorIs(t, err, cryptoDomain.ErrKeyNotFound)
		assert.ErrorContains(t, err, "failed to get key")
	})

	t.Run("list failure", func(t *testing.T) {
		mock.ExpectQuery("SELECT (.+) FROM keys").WillReturnError(errors.New("timeout"))
		_, err := repo.List(ctx)
		assert.ErrorContains(t, err, "failed to list keys")
	})

	t.Run("delete failure", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM keys").WillReturnError(errors.New("timeout"))
		assert.ErrorContains(t, repo.Delete(ctx, "key_a"), "failed to delete key")
	})

	t.Run("delete version matches alias and nonce", func(t *testing.T) {
		mock.ExpectExec(`DELETE FROM keys WHERE alias = \$1 AND nonce = \$2`).
			WithArgs("key_a", []byte("nonce-123456")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		deleted, err := repo.DeleteVersion(ctx, "key_a", []byte("nonce-123456"))
		require.NoError(t, err)
		assert.False(t, deleted)
	})

	t.Run("delete version rows affected failure", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM keys").
			WillReturnResult(sqlmock.NewErrorResult(errors.New("driver does not report rows")))
		_, err := repo.DeleteVersion(ctx, "key_a", []byte("nonce-123456"))
		assert.ErrorContains(t, err, "failed to delete key")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLKeyRepository_Errors(t *testing.T) {
	ctx := context.Background()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	repo := NewMySQLKeyRepository(db)

	t.Run("duplicate entry maps to conflict", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO `keys`").WillReturnError(&mysql.MySQLError{Number: 1062})
		err := repo.Create(ctx, newWrappedKey("key_a"))
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("scan error while listing", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"alias", "master_key_id", "algorithm", "created_at"}).
			AddRow("key_a", "mk", "aes-gcm", "not-a-time")
		mock.ExpectQuery("SELECT (.+) FROM `keys`").WillReturnRows(rows)
		_, err := repo.List(ctx)
		assert.ErrorContains(t, err, "failed to scan key")
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
