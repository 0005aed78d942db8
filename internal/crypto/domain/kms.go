package domain

import "context"

// KMSKeeper encrypts and decrypts small payloads with a key held by an external KMS.
// *secrets.Keeper from gocloud.dev satisfies this interface.
type KMSKeeper interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
	Close() error
}

// KeeperOpener opens a KMSKeeper for a provider URI such as "gcpkms://..." or "base64key://...".
type KeeperOpener interface {
	OpenKeeper(ctx context.Context, keyURI string) (KMSKeeper, error)
}
