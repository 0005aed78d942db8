package repository

import (
	"context"
	"fmt"
	"time"

	"gocloud.dev/blob"

	"github.com/allisson/safestring/internal/blobstore"
	apperrors "github.com/allisson/safestring/internal/errors"
	vaultDomain "github.com/allisson/safestring/internal/vault/domain"
)

const entryPrefix = "entries/"

// blobEntry is the JSON layout of an entry object. Ciphertext and nonce encode as base64.
type blobEntry struct {
	Name       string    `json:"name"`
	Ciphertext []byte    `json:"ciphertext"`
	Nonce      []byte    `json:"nonce"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// BlobEntryRepository stores each entry as one JSON object under entries/ in a
// gocloud.dev blob bucket.
type BlobEntryRepository struct {
	bucket *blob.Bucket
}

// NewBlobEntryRepository creates a new blob entry repository.
func NewBlobEntryRepository(bucket *blob.Bucket) *BlobEntryRepository {
	return &BlobEntryRepository{bucket: bucket}
}

// Put writes the entry object, replacing any previous one.
func (b *BlobEntryRepository) Put(ctx context.Context, entry *vaultDomain.Entry) error {
	if err := blobstore.CheckName(entry.Name); err != nil {
		return fmt.Errorf("%w: %w", vaultDomain.ErrInvalidName, err)
	}

	obj := blobEntry{
		Name:       entry.Name,
		Ciphertext: entry.Ciphertext,
		Nonce:      entry.Nonce,
		CreatedAt:  entry.CreatedAt,
		UpdatedAt:  entry.UpdatedAt,
	}

	var previous blobEntry
	key := blobstore.ObjectKey(entryPrefix, entry.Name)
	if err := blobstore.ReadJSON(ctx, b.bucket, key, &previous); err == nil && !previous.CreatedAt.IsZero() {
		obj.CreatedAt = previous.CreatedAt
	}

	if err := blobstore.WriteJSON(ctx, b.bucket, key, obj, false); err != nil {
		return fmt.Errorf("%w: %v", vaultDomain.ErrStorageWriteFailed, err)
	}
	return nil
}

// Get retrieves the entry stored under name.
func (b *BlobEntryRepository) Get(ctx context.Context, name string) (*vaultDomain.Entry, error) {
	var obj blobEntry
	if err := blobstore.ReadJSON(ctx, b.bucket, blobstore.ObjectKey(entryPrefix, name), &obj); err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			return nil, vaultDomain.ErrEntryNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get entry")
	}

	return &vaultDomain.Entry{
		Name:       obj.Name,
		Ciphertext: obj.Ciphertext,
		Nonce:      obj.Nonce,
		CreatedAt:  obj.CreatedAt,
		UpdatedAt:  obj.UpdatedAt,
	}, nil
}

// List returns every entry name in byte order.
func (b *BlobEntryRepository) List(ctx context.Context) ([]string, error) {
	names, err := blobstore.ListNames(ctx, b.bucket, entryPrefix)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list entries")
	}
	return names, nil
}

// Delete removes the entry object for name.
func (b *BlobEntryRepository) Delete(ctx context.Context, name string) error {
	if err := blobstore.Delete(ctx, b.bucket, blobstore.ObjectKey(entryPrefix, name)); err != nil {
		return apperrors.Wrap(err, "failed to delete entry")
	}
	return nil
}

// Ping checks that the bucket is reachable.
func (b *BlobEntryRepository) Ping(ctx context.Context) error {
	return blobstore.Ping(ctx, b.bucket)
}
