package repository

import (
	"bytes"
	"context"
	"time"

	"gocloud.dev/blob"

	"github.com/allisson/safestring/internal/blobstore"
	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	apperrors "github.com/allisson/safestring/internal/errors"
)

const keyPrefix = "keys/"

// blobKey is the JSON layout of a wrapped key object. Binary fields encode as base64.
type blobKey struct {
	Alias        string    `json:"alias"`
	MasterKeyID  string    `json:"master_key_id"`
	Algorithm    string    `json:"algorithm"`
	EncryptedKey []byte    `json:"encrypted_key"`
	Nonce        []byte    `json:"nonce"`
	CreatedAt    time.Time `json:"created_at"`
}

// BlobKeyRepository implements wrapped key persistence on a gocloud.dev blob bucket,
// storing one object per alias under keys/.
type BlobKeyRepository struct {
	bucket *blob.Bucket
}

// NewBlobKeyRepository creates a new blob key repository.
func NewBlobKeyRepository(bucket *blob.Bucket) *BlobKeyRepository {
	return &BlobKeyRepository{bucket: bucket}
}

// Create writes the wrapped key object only if none exists for the alias. Aliases too
// long for a single object file name fail with blobstore.ErrNameTooLong.
func (b *BlobKeyRepository) Create(ctx context.Context, key *cryptoDomain.WrappedKey) error {
	if err := blobstore.CheckName(key.Alias); err != nil {
		return err
	}

	obj := blobKey{
		Alias:        key.Alias,
		MasterKeyID:  key.MasterKeyID,
		Algorithm:    string(key.Algorithm),
		EncryptedKey: key.EncryptedKey,
		Nonce:        key.Nonce,
		CreatedAt:    key.CreatedAt,
	}
	if err := blobstore.WriteJSON(ctx, b.bucket, blobstore.ObjectKey(keyPrefix, key.Alias), obj, true); err != nil {
		if apperrors.Is(err, apperrors.ErrConflict) {
			return err
		}
		return apperrors.Wrap(err, "failed to create key")
	}
	return nil
}

// Get retrieves the wrapped key for alias.
func (b *BlobKeyRepository) Get(ctx context.Context, alias string) (*cryptoDomain.WrappedKey, error) {
	var obj blobKey
	if err := blobstore.ReadJSON(ctx, b.bucket, blobstore.ObjectKey(keyPrefix, alias), &obj); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, cryptoDomain.ErrKeyNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get key")
	}

	return &cryptoDomain.WrappedKey{
		Alias:        obj.Alias,
		MasterKeyID:  obj.MasterKeyID,
		Algorithm:    cryptoDomain.Algorithm(obj.Algorithm),
		EncryptedKey: obj.EncryptedKey,
		Nonce:        obj.Nonce,
		CreatedAt:    obj.CreatedAt,
	}, nil
}

// Delete removes the wrapped key object for alias.
func (b *BlobKeyRepository) Delete(ctx context.Context, alias string) error {
	if err := blobstore.Delete(ctx, b.bucket, blobstore.ObjectKey(keyPrefix, alias)); err != nil {
		return apperrors.Wrap(err, "failed to delete key")
	}
	return nil
}

// DeleteVersion removes the wrapped key object for alias only while its nonce matches.
// Buckets offer no conditional delete, so a key replaced between the read and the delete
// is removed as well; callers re-check their own state afterwards.
func (b *BlobKeyRepository) DeleteVersion(ctx context.Context, alias string, nonce []byte) (bool, error) {
	key, err := b.Get(ctx, alias)
	if err != nil {
		if apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if !bytes.Equal(key.Nonce, nonce) {
		return false, nil
	}
	if err := b.Delete(ctx, alias); err != nil {
		return false, err
	}
	return true, nil
}

// List returns every stored key ordered by alias. Each object is read to obtain its
// metadata; keys removed while listing are skipped.
func (b *BlobKeyRepository) List(ctx context.Context) ([]cryptoDomain.WrappedKeyInfo, error) {
	aliases, err := blobstore.ListNames(ctx, b.bucket, keyPrefix)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list keys")
	}

	infos := make([]cryptoDomain.WrappedKeyInfo, 0, len(aliases))
	for _, alias := range aliases {
		key, err := b.Get(ctx, alias)
		if err != nil {
			if apperrors.Is(err, cryptoDomain.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, cryptoDomain.WrappedKeyInfo{
			Alias:       key.Alias,
			MasterKeyID: key.MasterKeyID,
			Algorithm:   key.Algorithm,
			CreatedAt:   key.CreatedAt,
		})
	}
	return infos, nil
}
