package usecase

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	"github.com/allisson/safestring/internal/blobstore"
	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	cryptoRepository "github.com/allisson/safestring/internal/crypto/repository"
	cryptoService "github.com/allisson/safestring/internal/crypto/service"
	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
	vaultRepository "github.com/allisson/safestring/internal/vault/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// vaultStack is a complete vault over in-memory blob buckets.
type vaultStack struct {
	vault       VaultUseCase
	entryRepo   EntryRepository
	keyProvider cryptoService.KeyProvider
	locker      *NameLocker

	bucket *blob.Bucket
	chain  *cryptoDomain.MasterKeyChain
}

func newVaultStack(t *testing.T) *vaultStack {
	t.Helper()

	bucket := memblob.OpenBucket(nil)
	t.Cleanup(func() { _ = bucket.Close() })

	masterKey := make([]byte, cryptoDomain.KeySize)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	mk, err := cryptoDomain.NewMasterKey("mk1", masterKey)
	require.NoError(t, err)
	chain, err := cryptoDomain.NewMasterKeyChain("mk1", mk)
	require.NoError(t, err)
	t.Cleanup(chain.Close)

	return buildVaultStack(bucket, chain)
}

// sibling returns a vault sharing this stack's storage and master keys but with its own
// key cache and name locks, as a second process (or a restart) would have.
func (s *vaultStack) sibling(t *testing.T) *vaultStack {
	t.Helper()
	return buildVaultStack(s.bucket, s.chain)
}

func buildVaultStack(bucket *blob.Bucket, chain *cryptoDomain.MasterKeyChain) *vaultStack {
	keyProvider := cryptoService.NewWrappedKeyProvider(
		cryptoRepository.NewBlobKeyRepository(bucket),
		chain,
		cryptoService.NewAEADManager(),
		cryptoDomain.AESGCM,
		discardLogger(),
	)
	entryRepo := vaultRepository.NewBlobEntryRepository(bucket)
	locker := NewNameLocker()

	return &vaultStack{
		vault: NewVaultUseCase(
			entryRepo,
			keyProvider,
			cryptoService.NewCipherEngine(discardLogger()),
			locker,
			discardLogger(),
		),
		entryRepo:   entryRepo,
		keyProvider: keyProvider,
		locker:      locker,
		bucket:      bucket,
		chain:       chain,
	}
}

// deleteStoredKey removes a key behind the vault's back.
func deleteStoredKey(t *testing.T, s *vaultStack, alias string) {
	t.Helper()
	require.NoError(t, cryptoRepository.NewBlobKeyRepository(s.bucket).Delete(context.Background(), alias))
}

// assertEntryKeyPairing checks that every entry has a key and every key has an entry,
// and that every entry decrypts from a cold cache.
func assertEntryKeyPairing(t *testing.T, s *vaultStack) {
	t.Helper()
	ctx := context.Background()

	names, err := s.entryRepo.List(ctx)
	require.NoError(t, err)
	infos, err := s.keyProvider.ListAliases(ctx)
	require.NoError(t, err)

	keyed := make([]string, 0, len(infos))
	for _, info := range infos {
		keyed = append(keyed, strings.TrimPrefix(info.Alias, cryptoDomain.KeyAliasPrefix))
	}
	assert.ElementsMatch(t, names, keyed)

	cold := s.sibling(t)
	for _, name := range names {
		_, err := cold.vault.Retrieve(ctx, name)
		assert.NoError(t, err, name)
	}
}

// MockEntryRepository is a mock implementation of EntryRepository.
type MockEntryRepository struct {
	mock.Mock
}

func (m *MockEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*vaultDomain.Entry), args.Error(1)
}

func (m *MockEntryRepository) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockEntryRepository) Delete(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

func (m *MockEntryRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockKeyProvider is a mock implementation of cryptoService.KeyProvider.
type MockKeyProvider struct {
	mock.Mock
}

func (m *MockKeyProvider) GetOrCreateKey(ctx context.Context, alias string) (*cryptoService.KeyHandle, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cryptoService.KeyHandle), args.Error(1)
}

func (m *MockKeyProvider) GetKey(ctx context.Context, alias string) (*cryptoService.KeyHandle, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cryptoService.KeyHandle), args.Error(1)
}

func (m *MockKeyProvider) GetWrappedKey(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	args := m.Called(ctx, alias)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*cryptoDomain.WrappedKey), args.Error(1)
}

func (m *MockKeyProvider) DeleteKeyVersion(ctx context.Context, key *cryptoDomain.WrappedKey) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockKeyProvider) RestoreKey(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockKeyProvider) ListAliases(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]cryptoDomain.WrappedKeyInfo), args.Error(1)
}

// MockCipherEngine is a mock implementation of cryptoService.CipherEngine.
type MockCipherEngine struct {
	mock.Mock
}

func (m *MockCipherEngine) Encrypt(key *cryptoService.KeyHandle, plaintext []byte) ([]byte, []byte, error) {
	args := m.Called(key, plaintext)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).([]byte), args.Get(1).([]byte), args.Error(2)
}

func (m *MockCipherEngine) Decrypt(key *cryptoService.KeyHandle, ciphertext, nonce []byte) ([]byte, error) {
	args := m.Called(key, ciphertext, nonce)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func newMockedVault(entryRepo *MockEntryRepository, keyProvider *MockKeyProvider, engine *MockCipherEngine) VaultUseCase {
	return NewVaultUseCase(entryRepo, keyProvider, engine, NewNameLocker(), discardLogger())
}

func TestVaultUseCase_RoundTrip(t *testing.T) {
	ctx := context.Background()
	stack := newVaultStack(t)

	values := map[string][]byte{
		"token":       []byte("s3cr3t"),
		"empty-value": {},
		"unicode":     []byte("pässwörd 🔑"),
		"binary":      {0x00, 0xff, 0x10, 0x00},
		"db/password": []byte("with/slash"),
	}

	for name, value := range values {
		require.NoError(t, stack.vault.Save(ctx, name, value))
	}
	for name, value := range values {
		got, err := stack.vault.Retrieve(ctx, name)
		require.NoError(t, err, name)
		assert.Equal(t, string(value), string(got), name)
	}
}

func TestVaultUseCase_TokenScenario(t *testing.T) {
	ctx := context.Background()
	stack := newVaultStack(t)

	require.NoError(t, stack.vault.Save(ctx, "token", []byte("s3cr3t")))

	names, err := stack.vault.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"token"}, names)

	value, err := stack.vault.Retrieve(ctx, "token")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t", string(value))

	require.NoError(t, stack.vault.Delete(ctx, "token"))

	names, err = stack.vault.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = stack.vault.Retrieve(ctx, "token")
	assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestVaultUseCase_Save(t *testing.T) {
	ctx := context.Background()

	t.Run("empty name rejected", func(t *testing.T) {
		stack := newVaultStack(t)
		err := stack.vault.Save(ctx, "", []byte("value"))
		assert.ErrorIs(t, err, vaultDomain.ErrInvalidName)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	})

	t.Run("name too long for blob storage writes nothing", func(t *testing.T) {
		stack := newVaultStack(t)
		err := stack.vault.Save(ctx, strings.Repeat("n", 300), []byte("value"))
		assert.ErrorIs(t, err, blobstore.ErrNameTooLong)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

		aliases, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		assert.Empty(t, aliases)
		names, err := stack.entryRepo.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, names)
	})

	t.Run("same value encrypts differently each time", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("same")))
		first, err := stack.entryRepo.Get(ctx, "x")
		require.NoError(t, err)

		require.NoError(t, stack.vault.Save(ctx, "x", []byte("same")))
		second, err := stack.entryRepo.Get(ctx, "x")
		require.NoError(t, err)

		assert.NotEqual(t, first.Nonce, second.Nonce)
		assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
	})

	t.Run("overwrite reuses the key", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("a")))
		before, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, before, 1)

		require.NoError(t, stack.vault.Save(ctx, "x", []byte("b")))
		after, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		require.Len(t, after, 1)
		assert.Equal(t, "key_x", after[0].Alias)
		assert.Equal(t, before[0].CreatedAt, after[0].CreatedAt)

		value, err := stack.vault.Retrieve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "b", string(value))
	})

	t.Run("concurrent saves leave one readable value and one key", func(t *testing.T) {
		stack := newVaultStack(t)
		var wg sync.WaitGroup
		for i := range 16 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, stack.vault.Save(ctx, "shared", fmt.Appendf(nil, "value-%d", i)))
			}()
		}
		wg.Wait()

		value, err := stack.vault.Retrieve(ctx, "shared")
		require.NoError(t, err)
		assert.Regexp(t, `^value-\d+$`, string(value))

		aliases, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		assert.Len(t, aliases, 1)
		assert.Zero(t, stack.locker.size())
	})

	t.Run("key failure writes nothing", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		engine := &MockCipherEngine{}
		keyProvider.On("GetOrCreateKey", ctx, "key_x").
			Return(nil, cryptoDomain.ErrKeyGenerationFailed).
			Once()

		err := newMockedVault(entryRepo, keyProvider, engine).Save(ctx, "x", []byte("v"))
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyGenerationFailed)

		entryRepo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		keyProvider.AssertExpectations(t)
	})

	t.Run("encryption failure writes nothing", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		engine := &MockCipherEngine{}
		handle := &cryptoService.KeyHandle{}
		keyProvider.On("GetOrCreateKey", ctx, "key_x").Return(handle, nil).Once()
		engine.On("Encrypt", handle, []byte("v")).
			Return(nil, nil, cryptoDomain.ErrKeyAccessFailed).
			Once()

		err := newMockedVault(entryRepo, keyProvider, engine).Save(ctx, "x", []byte("v"))
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyAccessFailed)

		entryRepo.AssertNotCalled(t, "Put", mock.Anything, mock.Anything)
		engine.AssertExpectations(t)
	})

	t.Run("storage failure surfaces", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		engine := &MockCipherEngine{}
		handle := &cryptoService.KeyHandle{}
		keyProvider.On("GetOrCreateKey", ctx, "key_x").Return(handle, nil).Once()
		engine.On("Encrypt", handle, []byte("v")).
			Return([]byte("ciphertext"), []byte("nonce-123456"), nil).
			Once()
		entryRepo.On("Put", ctx, mock.MatchedBy(func(e *vaultDomain.Entry) bool {
			return e.Name == "x" && string(e.Ciphertext) == "ciphertext" && string(e.Nonce) == "nonce-123456"
		})).Return(fmt.Errorf("%w: disk full", vaultDomain.ErrStorageWriteFailed)).Once()

		err := newMockedVault(entryRepo, keyProvider, engine).Save(ctx, "x", []byte("v"))
		assert.ErrorIs(t, err, vaultDomain.ErrStorageWriteFailed)
		entryRepo.AssertExpectations(t)
	})
}

func TestVaultUseCase_Retrieve(t *testing.T) {
	ctx := context.Background()

	t.Run("missing entry", func(t *testing.T) {
		stack := newVaultStack(t)
		_, err := stack.vault.Retrieve(ctx, "missing")
		assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
	})

	t.Run("empty name is not found", func(t *testing.T) {
		stack := newVaultStack(t)
		_, err := stack.vault.Retrieve(ctx, "")
		assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
	})

	t.Run("retrieve never creates a key", func(t *testing.T) {
		stack := newVaultStack(t)
		_, err := stack.vault.Retrieve(ctx, "missing")
		require.Error(t, err)
		aliases, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		assert.Empty(t, aliases)
	})

	tamper := []struct {
		name   string
		modify func(e *vaultDomain.Entry)
	}{
		{"ciphertext bit flip", func(e *vaultDomain.Entry) { e.Ciphertext[0] ^= 0x01 }},
		{"tag bit flip", func(e *vaultDomain.Entry) { e.Ciphertext[len(e.Ciphertext)-1] ^= 0x80 }},
		{"nonce bit flip", func(e *vaultDomain.Entry) { e.Nonce[5] ^= 0x10 }},
		{"truncated nonce", func(e *vaultDomain.Entry) { e.Nonce = e.Nonce[:8] }},
		{"truncated ciphertext", func(e *vaultDomain.Entry) { e.Ciphertext = e.Ciphertext[:4] }},
	}
	for _, tt := range tamper {
		t.Run(tt.name, func(t *testing.T) {
			stack := newVaultStack(t)
			require.NoError(t, stack.vault.Save(ctx, "x", []byte("original value")))

			entry, err := stack.entryRepo.Get(ctx, "x")
			require.NoError(t, err)
			tt.modify(entry)
			require.NoError(t, stack.entryRepo.Put(ctx, entry))

			value, err := stack.vault.Retrieve(ctx, "x")
			assert.Nil(t, value)
			assert.ErrorIs(t, err, vaultDomain.ErrDecryptionFailed)
			assert.ErrorIs(t, err, cryptoDomain.ErrAuthenticationFailed)
			assert.NotErrorIs(t, err, apperrors.ErrNotFound)
		})
	}

	t.Run("ciphertext moved to another name fails", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "a", []byte("value a")))
		require.NoError(t, stack.vault.Save(ctx, "b", []byte("value b")))

		a, err := stack.entryRepo.Get(ctx, "a")
		require.NoError(t, err)
		a.Name = "b"
		require.NoError(t, stack.entryRepo.Put(ctx, a))

		_, err = stack.vault.Retrieve(ctx, "b")
		assert.ErrorIs(t, err, vaultDomain.ErrDecryptionFailed)
	})

	t.Run("entry without key is unreadable, not missing", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("v")))
		deleteStoredKey(t, stack, "key_x")

		_, err := stack.vault.Retrieve(ctx, "x")
		assert.ErrorIs(t, err, vaultDomain.ErrDecryptionFailed)
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyAccessFailed)
		assert.NotErrorIs(t, err, apperrors.ErrNotFound)

		names, err := stack.vault.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, names)
	})

	t.Run("entry store read failure surfaces", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		readErr := errors.New("connection refused")
		entryRepo.On("Get", ctx, "x").Return(nil, readErr).Once()

		_, err := newMockedVault(entryRepo, &MockKeyProvider{}, &MockCipherEngine{}).Retrieve(ctx, "x")
		assert.ErrorIs(t, err, readErr)
		assert.NotErrorIs(t, err, vaultDomain.ErrDecryptionFailed)
	})
}

func TestVaultUseCase_List(t *testing.T) {
	ctx := context.Background()

	t.Run("sorted", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		entryRepo.On("List", ctx).Return([]string{"b", "a", "C"}, nil).Once()

		names, err := newMockedVault(entryRepo, &MockKeyProvider{}, &MockCipherEngine{}).List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"C", "a", "b"}, names)
	})

	t.Run("failure", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		entryRepo.On("List", ctx).Return(nil, errors.New("timeout")).Once()

		_, err := newMockedVault(entryRepo, &MockKeyProvider{}, &MockCipherEngine{}).List(ctx)
		assert.Error(t, err)
	})
}

func TestVaultUseCase_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("missing name succeeds", func(t *testing.T) {
		stack := newVaultStack(t)
		assert.NoError(t, stack.vault.Delete(ctx, "missing"))
		assert.NoError(t, stack.vault.Delete(ctx, ""))
	})

	t.Run("removes entry and key", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("v")))
		require.NoError(t, stack.vault.Delete(ctx, "x"))
		require.NoError(t, stack.vault.Delete(ctx, "x"))

		aliases, err := stack.keyProvider.ListAliases(ctx)
		require.NoError(t, err)
		assert.Empty(t, aliases)
	})

	t.Run("isolation", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "a", []byte("1")))
		require.NoError(t, stack.vault.Save(ctx, "b", []byte("2")))
		require.NoError(t, stack.vault.Delete(ctx, "a"))

		value, err := stack.vault.Retrieve(ctx, "b")
		require.NoError(t, err)
		assert.Equal(t, "2", string(value))

		_, err = stack.vault.Retrieve(ctx, "a")
		assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
	})

	t.Run("save after delete creates a new key", func(t *testing.T) {
		stack := newVaultStack(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("old")))
		require.NoError(t, stack.vault.Delete(ctx, "x"))
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("new")))

		value, err := stack.vault.Retrieve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "new", string(value))
	})

	t.Run("key removal failure is reported after entry removal", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		keyErr := errors.New("key store unavailable")
		key := &cryptoDomain.WrappedKey{Alias: "key_x", Nonce: []byte("n1")}
		entryRepo.On("Delete", ctx, "x").Return(nil).Once()
		keyProvider.On("GetWrappedKey", ctx, "key_x").Return(key, nil).Once()
		keyProvider.On("DeleteKeyVersion", ctx, key).Return(false, keyErr).Once()

		err := newMockedVault(entryRepo, keyProvider, &MockCipherEngine{}).Delete(ctx, "x")
		assert.ErrorIs(t, err, vaultDomain.ErrDeleteIncomplete)
		assert.ErrorIs(t, err, keyErr)
		entryRepo.AssertExpectations(t)
		keyProvider.AssertExpectations(t)
	})

	t.Run("key removal still attempted when entry removal fails", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		entryErr := errors.New("entry store unavailable")
		key := &cryptoDomain.WrappedKey{Alias: "key_x", Nonce: []byte("n1")}
		entryRepo.On("Delete", ctx, "x").Return(entryErr).Once()
		keyProvider.On("GetWrappedKey", ctx, "key_x").Return(key, nil).Once()
		keyProvider.On("DeleteKeyVersion", ctx, key).Return(true, nil).Once()

		err := newMockedVault(entryRepo, keyProvider, &MockCipherEngine{}).Delete(ctx, "x")
		assert.ErrorIs(t, err, vaultDomain.ErrDeleteIncomplete)
		assert.ErrorIs(t, err, entryErr)
		keyProvider.AssertExpectations(t)
		entryRepo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})

	t.Run("entry saved elsewhere during delete keeps its key", func(t *testing.T) {
		stack := newVaultStack(t)
		other := stack.sibling(t)
		require.NoError(t, stack.vault.Save(ctx, "x", []byte("old")))

		racing := &racingKeyProvider{
			KeyProvider: stack.keyProvider,
			beforeDeleteVersion: func() {
				require.NoError(t, other.vault.Save(ctx, "x", []byte("new")))
			},
		}
		vault := NewVaultUseCase(stack.entryRepo, racing, cryptoService.NewCipherEngine(discardLogger()),
			stack.locker, discardLogger())
		require.NoError(t, vault.Delete(ctx, "x"))

		value, err := stack.sibling(t).vault.Retrieve(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, "new", string(value))
		assertEntryKeyPairing(t, stack)
	})

	t.Run("key recreated elsewhere is left alone", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		key := &cryptoDomain.WrappedKey{Alias: "key_x", Nonce: []byte("n1")}
		entryRepo.On("Delete", ctx, "x").Return(nil).Once()
		keyProvider.On("GetWrappedKey", ctx, "key_x").Return(key, nil).Once()
		keyProvider.On("DeleteKeyVersion", ctx, key).Return(false, nil).Once()

		err := newMockedVault(entryRepo, keyProvider, &MockCipherEngine{}).Delete(ctx, "x")
		assert.NoError(t, err)
		keyProvider.AssertNotCalled(t, "RestoreKey", mock.Anything, mock.Anything)
	})
}

func TestVaultUseCase_SharedStorage(t *testing.T) {
	ctx := context.Background()

	t.Run("save after delete in another process survives a restart", func(t *testing.T) {
		server := newVaultStack(t)
		cli := server.sibling(t)

		require.NoError(t, server.vault.Save(ctx, "token", []byte("v1")))
		require.NoError(t, cli.vault.Delete(ctx, "token"))
		require.NoError(t, server.vault.Save(ctx, "token", []byte("v2")))

		value, err := server.vault.Retrieve(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(value))

		value, err = server.sibling(t).vault.Retrieve(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(value))
		assertEntryKeyPairing(t, server)
	})

	t.Run("retrieve after delete in another process is not found", func(t *testing.T) {
		server := newVaultStack(t)
		cli := server.sibling(t)

		require.NoError(t, server.vault.Save(ctx, "token", []byte("v1")))
		require.NoError(t, cli.vault.Delete(ctx, "token"))

		_, err := server.vault.Retrieve(ctx, "token")
		assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
	})

	t.Run("key deleted while the entry is written is replaced", func(t *testing.T) {
		server := newVaultStack(t)
		cli := server.sibling(t)
		require.NoError(t, server.vault.Save(ctx, "token", []byte("v1")))

		hooked := &hookedEntryRepository{
			EntryRepository: server.entryRepo,
			beforePut: func() {
				require.NoError(t, cli.vault.Delete(ctx, "token"))
			},
		}
		vault := NewVaultUseCase(hooked, server.keyProvider, cryptoService.NewCipherEngine(discardLogger()),
			server.locker, discardLogger())
		require.NoError(t, vault.Save(ctx, "token", []byte("v2")))

		value, err := server.sibling(t).vault.Retrieve(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(value))
		assertEntryKeyPairing(t, server)
	})

	t.Run("entry replaced in another process between reads", func(t *testing.T) {
		server := newVaultStack(t)
		cli := server.sibling(t)
		require.NoError(t, server.vault.Save(ctx, "token", []byte("v1")))

		hooked := &hookedEntryRepository{
			EntryRepository: server.entryRepo,
			afterGet: func() {
				require.NoError(t, cli.vault.Delete(ctx, "token"))
				require.NoError(t, cli.vault.Save(ctx, "token", []byte("v2")))
			},
		}
		vault := NewVaultUseCase(hooked, server.keyProvider, cryptoService.NewCipherEngine(discardLogger()),
			server.locker, discardLogger())

		value, err := vault.Retrieve(ctx, "token")
		require.NoError(t, err)
		assert.Equal(t, "v2", string(value))
	})
}

func TestVaultUseCase_SaveVerifiesKey(t *testing.T) {
	ctx := context.Background()

	t.Run("gives up when the key keeps disappearing", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		engine := &MockCipherEngine{}
		handle := &cryptoService.KeyHandle{}
		keyProvider.On("GetOrCreateKey", ctx, "key_x").Return(handle, nil).Times(maxAttempts)
		engine.On("Encrypt", handle, []byte("v")).
			Return([]byte("ciphertext"), []byte("nonce-123456"), nil).
			Times(maxAttempts)
		entryRepo.On("Put", ctx, mock.Anything).Return(nil).Times(maxAttempts)
		keyProvider.On("GetWrappedKey", ctx, "key_x").
			Return(nil, cryptoDomain.ErrKeyNotFound).
			Times(maxAttempts)

		err := newMockedVault(entryRepo, keyProvider, engine).Save(ctx, "x", []byte("v"))
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyAccessFailed)
		keyProvider.AssertExpectations(t)
		entryRepo.AssertExpectations(t)
	})

	t.Run("verification read failure surfaces", func(t *testing.T) {
		entryRepo := &MockEntryRepository{}
		keyProvider := &MockKeyProvider{}
		engine := &MockCipherEngine{}
		handle := &cryptoService.KeyHandle{}
		keyProvider.On("GetOrCreateKey", ctx, "key_x").Return(handle, nil).Once()
		engine.On("Encrypt", handle, []byte("v")).
			Return([]byte("ciphertext"), []byte("nonce-123456"), nil).
			Once()
		entryRepo.On("Put", ctx, mock.Anything).Return(nil).Once()
		keyProvider.On("GetWrappedKey", ctx, "key_x").
			Return(nil, fmt.Errorf("%w: timeout", cryptoDomain.ErrKeyAccessFailed)).
			Once()

		err := newMockedVault(entryRepo, keyProvider, engine).Save(ctx, "x", []byte("v"))
		assert.ErrorIs(t, err, cryptoDomain.ErrKeyAccessFailed)
		keyProvider.AssertNumberOfCalls(t, "GetOrCreateKey", 1)
	})
}

func TestVaultUseCase_ConcurrentOperations(t *testing.T) {
	ctx := context.Background()

	run := func(t *testing.T, stacks []*vaultStack) (unreadable int) {
		var (
			wg sync.WaitGroup
			mu sync.Mutex
		)
		for i := range 12 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				s := stacks[i%len(stacks)]
				for j := range 20 {
					switch (i + j) % 3 {
					case 0:
						assert.NoError(t, s.vault.Save(ctx, "shared", fmt.Appendf(nil, "value-%d-%d", i, j)))
					case 1:
						assert.NoError(t, s.vault.Delete(ctx, "shared"))
					default:
						value, err := s.vault.Retrieve(ctx, "shared")
						switch {
						case err == nil:
							assert.Regexp(t, `^value-\d+-\d+$`, string(value))
						case errors.Is(err, vaultDomain.ErrDecryptionFailed):
							mu.Lock()
							unreadable++
							mu.Unlock()
						default:
							assert.ErrorIs(t, err, vaultDomain.ErrEntryNotFound)
						}
					}
				}
			}()
		}
		wg.Wait()
		return unreadable
	}

	t.Run("one process", func(t *testing.T) {
		stack := newVaultStack(t)
		unreadable := run(t, []*vaultStack{stack, stack})

		assert.Zero(t, unreadable)
		assertEntryKeyPairing(t, stack)
		assert.Zero(t, stack.locker.size())
	})

	t.Run("two processes", func(t *testing.T) {
		stack := newVaultStack(t)
		run(t, []*vaultStack{stack, stack.sibling(t)})

		// Racing deletes across processes can leave an orphan key behind, never an
		// entry without its key; the reconciler removes the orphan.
		names, err := stack.entryRepo.List(ctx)
		require.NoError(t, err)
		for _, name := range names {
			_, err := stack.sibling(t).vault.Retrieve(ctx, name)
			assert.NoError(t, err, name)
		}

		r := newTestReconciler(stack, 0, time.Now().Add(time.Hour))
		_, err = r.ReconcileOnce(ctx)
		require.NoError(t, err)
		assertEntryKeyPairing(t, stack)
	})
}

// hookedEntryRepository runs each hook once: beforePut ahead of the first Put and
// afterGet after the first Get.
type hookedEntryRepository struct {
	EntryRepository
	beforePut func()
	afterGet  func()
}

func (h *hookedEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	if hook := h.beforePut; hook != nil {
		h.beforePut = nil
		hook()
	}
	return h.EntryRepository.Put(ctx, entry)
}

func (h *hookedEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	entry, err := h.EntryRepository.Get(ctx, name)
	if hook := h.afterGet; hook != nil {
		h.afterGet = nil
		hook()
	}
	return entry, err
}

func TestNameLocker(t *testing.T) {
	locker := NewNameLocker()

	var wg sync.WaitGroup
	counters := map[string]*int{"a": new(int), "b": new(int)}
	for range 50 {
		for _, name := range []string{"a", "b"} {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := locker.Lock(name)
				*counters[name]++
				unlock()
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 50, *counters["a"])
	assert.Equal(t, 50, *counters["b"])
	assert.Zero(t, locker.size())
}
