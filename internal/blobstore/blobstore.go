// Package blobstore wraps gocloud.dev/blob buckets with the JSON-object helpers used by
// the blob-backed repositories. Each record is one object, so a record is written and
// read atomically.
package blobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	apperrors "github.com/allisson/safestring/internal/errors"
)

const objectSuffix = ".json"

// maxSegmentLength bounds the last path segment of an object key. Filesystems cap file
// names at 255 bytes and fileblob writes through a temp file named after the object with
// a ".<16 hex digits>.tmp" suffix.
const maxSegmentLength = 255 - len(".0123456789abcdef.tmp")

// ErrNameTooLong is returned when a name's object key segment exceeds maxSegmentLength.
var ErrNameTooLong = apperrors.Wrap(apperrors.ErrInvalidInput, "name too long for blob storage")

// OpenBucket opens the bucket at bucketURL.
//
// file:// URLs may be relative ("file://./data") and the directory is created when
// missing. mem:// opens a process-local bucket.
func OpenBucket(ctx context.Context, bucketURL string) (*blob.Bucket, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, fmt.Errorf("invalid bucket url: %w", err)
	}

	if u.Scheme == fileblob.Scheme {
		dir := u.Host + u.Path
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create bucket directory: %w", err)
		}
		bucket, err := fileblob.OpenBucket(dir, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to open bucket: %w", err)
		}
		return bucket, nil
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open bucket: %w", err)
	}
	return bucket, nil
}

// ObjectKey returns the object key of name under prefix. The name is path-escaped so any
// string, including one with slashes, maps to a single object.
func ObjectKey(prefix, name string) string {
	return prefix + url.PathEscape(name) + objectSuffix
}

// CheckName reports ErrNameTooLong when the object key segment for name would not fit in
// a single file name.
func CheckName(name string) error {
	if len(url.PathEscape(name))+len(objectSuffix) > maxSegmentLength {
		return ErrNameTooLong
	}
	return nil
}

// NameFromKey reverses ObjectKey.
func NameFromKey(prefix, key string) (string, bool) {
	if !strings.HasPrefix(key, prefix) || !strings.HasSuffix(key, objectSuffix) {
		return "", false
	}
	escaped := strings.TrimSuffix(strings.TrimPrefix(key, prefix), objectSuffix)
	name, err := url.PathUnescape(escaped)
	if err != nil {
		return "", false
	}
	return name, true
}

// WriteJSON writes v as a single object. With ifNotExist set, an existing object is left
// untouched and an error wrapping apperrors.ErrConflict is returned.
func WriteJSON(ctx context.Context, bucket *blob.Bucket, key string, v any, ifNotExist bool) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal object: %w", err)
	}

	opts := &blob.WriterOptions{ContentType: "application/json", IfNotExist: ifNotExist}
	if err := bucket.WriteAll(ctx, key, data, opts); err != nil {
		if gcerrors.Code(err) == gcerrors.FailedPrecondition {
			return apperrors.Wrap(apperrors.ErrConflict, "object already exists")
		}
		return fmt.Errorf("failed to write object: %w", err)
	}
	return nil
}

// ReadJSON decodes the object at key into v. A missing object returns apperrors.ErrNotFound.
func ReadJSON(ctx context.Context, bucket *blob.Bucket, key string, v any) error {
	data, err := bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to read object: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode object: %w", err)
	}
	return nil
}

// Delete removes the object at key. A missing object is not an error.
func Delete(ctx context.Context, bucket *blob.Bucket, key string) error {
	if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// ListNames returns the names of every object under prefix, sorted ascending.
func ListNames(ctx context.Context, bucket *blob.Bucket, prefix string) ([]string, error) {
	names := make([]string, 0)
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if name, ok := NameFromKey(prefix, obj.Key); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks that the bucket is reachable.
func Ping(ctx context.Context, bucket *blob.Bucket) error {
	ok, err := bucket.IsAccessible(ctx)
	if err != nil {
		return fmt.Errorf("bucket not accessible: %w", err)
	}
	if !ok {
		return errors.New("bucket not accessible")
	}
	return nil
}
