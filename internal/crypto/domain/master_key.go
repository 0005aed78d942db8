package domain

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/awnumar/memguard"
)

// MasterKey is a 32-byte root key used to wrap entry keys.
//
// The key material lives in a memguard Enclave: it is encrypted while at rest in memory
// and only decrypted into a guarded LockedBuffer for the duration of a wrap or unwrap.
type MasterKey struct {
	ID      string
	enclave *memguard.Enclave
}

// NewMasterKey seals key into an enclave. The key slice is wiped, also on error.
func NewMasterKey(id string, key []byte) (*MasterKey, error) {
	if len(key) != KeySize {
		size := len(key)
		Zero(key)
		return nil, fmt.Errorf(
			"%w: master key %s must be %d bytes, got %d",
			ErrInvalidKeySize,
			id,
			KeySize,
			size,
		)
	}
	return &MasterKey{ID: id, enclave: memguard.NewEnclave(key)}, nil
}

// Open decrypts the master key into a locked buffer. Callers must Destroy the buffer.
func (m *MasterKey) Open() (*memguard.LockedBuffer, error) {
	if m == nil || m.enclave == nil {
		return nil, ErrMasterKeyNotFound
	}
	buf, err := m.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open master key %s: %w", m.ID, err)
	}
	return buf, nil
}

// MasterKeyChain holds every configured master key with one designated as active.
//
// New entry keys are wrapped with the active key. Older keys stay available to unwrap
// entry keys created before a rotation.
type MasterKeyChain struct {
	activeID string
	keys     sync.Map
}

// NewMasterKeyChain builds a chain from already sealed keys.
func NewMasterKeyChain(activeID string, keys ...*MasterKey) (*MasterKeyChain, error) {
	mkc := &MasterKeyChain{activeID: activeID}
	for _, k := range keys {
		mkc.keys.Store(k.ID, k)
	}
	if _, ok := mkc.Get(activeID); !ok {
		mkc.Close()
		return nil, fmt.Errorf("%w: ACTIVE_MASTER_KEY_ID=%s", ErrActiveMasterKeyNotFound, activeID)
	}
	return mkc, nil
}

// ActiveMasterKeyID returns the ID of the key used to wrap new entry keys.
func (m *MasterKeyChain) ActiveMasterKeyID() string {
	return m.activeID
}

// Active returns the active master key.
func (m *MasterKeyChain) Active() (*MasterKey, bool) {
	return m.Get(m.activeID)
}

// Get returns the master key with the given ID.
func (m *MasterKeyChain) Get(id string) (*MasterKey, bool) {
	if masterKey, ok := m.keys.Load(id); ok {
		return masterKey.(*MasterKey), ok
	}

	return nil, false
}

// Close drops every key from the chain. Enclave memory itself is released by memguard.Purge
// at process exit.
func (m *MasterKeyChain) Close() {
	m.activeID = ""
	m.keys.Clear()
}

// MasterKeyConfig carries the master key settings read from the environment.
//
// MasterKeys is a comma-separated list of "id:base64key" pairs. When KMSProvider and
// KMSKeyURI are set, every base64 value is a KMS ciphertext that decrypts to the key.
type MasterKeyConfig struct {
	MasterKeys        string
	ActiveMasterKeyID string
	KMSProvider       string
	KMSKeyURI         string
}

// LoadMasterKeyChain parses cfg into a MasterKeyChain, decrypting keys through the KMS
// when one is configured. Every decoded key slice is wiped before returning.
func LoadMasterKeyChain(
	ctx context.Context,
	cfg MasterKeyConfig,
	opener KeeperOpener,
	logger *slog.Logger,
) (*MasterKeyChain, error) {
	if cfg.MasterKeys == "" {
		return nil, ErrMasterKeysNotSet
	}
	if cfg.ActiveMasterKeyID == "" {
		return nil, ErrActiveMasterKeyIDNotSet
	}
	if (cfg.KMSProvider == "") != (cfg.KMSKeyURI == "") {
		return nil, ErrKMSConfigIncomplete
	}

	var keeper KMSKeeper
	if cfg.KMSKeyURI != "" {
		k, err := opener.OpenKeeper(ctx, cfg.KMSKeyURI)
		if err != nil {
			return nil, err
		}
		defer func() {
			if closeErr := k.Close(); closeErr != nil {
				logger.Error("failed to close kms keeper", slog.Any("error", closeErr))
			}
		}()
		keeper = k
		logger.Info("decrypting master keys with kms", slog.String("kms_provider", cfg.KMSProvider))
	}

	var keys []*MasterKey
	for part := range strings.SplitSeq(cfg.MasterKeys, ",") {
		p := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(p) != 2 || p[0] == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidMasterKeysFormat, part)
		}
		id := p[0]
		raw, err := base64.StdEncoding.DecodeString(p[1])
		if err != nil {
			return nil, fmt.Errorf("%w for %s: %v", ErrInvalidMasterKeyBase64, id, err)
		}
		if keeper != nil {
			plaintext, err := keeper.Decrypt(ctx, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt master key %s with kms: %w", id, err)
			}
			raw = plaintext
		}
		mk, err := NewMasterKey(id, raw)
		if err != nil {
			return nil, err
		}
		keys = append(keys, mk)
	}

	mkc, err := NewMasterKeyChain(cfg.ActiveMasterKeyID, keys...)
	if err != nil {
		return nil, err
	}
	logger.Info("master key chain loaded",
		slog.Int("master_keys", len(keys)),
		slog.String("active_master_key_id", cfg.ActiveMasterKeyID),
	)
	return mkc, nil
}
