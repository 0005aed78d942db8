package commands

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

const masterKeySize = 32

// errKMSFlagsIncomplete is returned when only one of the KMS parameters is set.
var errKMSFlagsIncomplete = errors.New(
	"--kms-provider and --kms-key-uri must be set together\n\nFor local development, use:\n  --kms-provider=localsecrets --kms-key-uri=\"base64key://<32-byte-base64-key>\"\n\nFor production, use cloud KMS providers:\n  --kms-provider=gcpkms --kms-key-uri=\"gcpkms://projects/.../cryptoKeys/...\"\n  --kms-provider=awskms --kms-key-uri=\"awskms:///alias/...\"\n  --kms-provider=hashivault --kms-key-uri=\"hashivault://...\"",
)

// RunCreateMasterKey generates a 32-byte master key and prints the environment variables
// that load it. If keyID is empty, a default ID "master-key-YYYY-MM-DD" is used.
//
// When kmsProvider and kmsKeyURI are set the key is encrypted by the KMS before output;
// when both are empty the raw key is printed base64 encoded.
//
// Output format:
//   - MASTER_KEYS="<keyID>:<base64>"
//   - ACTIVE_MASTER_KEY_ID="<keyID>"
//   - KMS_PROVIDER / KMS_KEY_URI in KMS mode
func RunCreateMasterKey(
	ctx context.Context,
	kmsService cryptoDomain.KeeperOpener,
	logger *slog.Logger,
	writer io.Writer,
	keyID, kmsProvider, kmsKeyURI string,
) error {
	if (kmsProvider == "") != (kmsKeyURI == "") {
		return errKMSFlagsIncomplete
	}

	if keyID == "" {
		keyID = defaultMasterKeyID()
	}

	encodedKey, err := newEncodedMasterKey(ctx, kmsService, kmsKeyURI, logger)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintln(writer, "# Master Key Configuration")
	_, _ = fmt.Fprintln(writer, "# Copy these environment variables to your .env file or secrets manager")
	_, _ = fmt.Fprintln(writer)
	if kmsProvider != "" {
		_, _ = fmt.Fprintf(writer, "KMS_PROVIDER=\"%s\"\n", kmsProvider)
		_, _ = fmt.Fprintf(writer, "KMS_KEY_URI=\"%s\"\n", kmsKeyURI)
	} else {
		_, _ = fmt.Fprintln(writer, "# Plaintext mode: store this value in a secrets manager, never in the repository")
	}
	_, _ = fmt.Fprintf(writer, "MASTER_KEYS=\"%s:%s\"\n", keyID, encodedKey)
	_, _ = fmt.Fprintf(writer, "ACTIVE_MASTER_KEY_ID=\"%s\"\n", keyID)

	logger.Info("master key created", slog.String("key_id", keyID), slog.Bool("kms", kmsProvider != ""))
	return nil
}

func defaultMasterKeyID() string {
	return fmt.Sprintf("master-key-%s", time.Now().Format("2006-01-02"))
}

// newEncodedMasterKey returns a fresh master key as base64, encrypted through the keeper
// at kmsKeyURI when one is given. The raw key is zeroed before returning.
func newEncodedMasterKey(
	ctx context.Context,
	kmsService cryptoDomain.KeeperOpener,
	kmsKeyURI string,
	logger *slog.Logger,
) (string, error) {
	masterKey := make([]byte, masterKeySize)
	defer cryptoDomain.Zero(masterKey)

	if _, err := rand.Read(masterKey); err != nil {
		return "", fmt.Errorf("failed to generate master key: %w", err)
	}

	if kmsKeyURI == "" {
		return base64.StdEncoding.EncodeToString(masterKey), nil
	}

	keeper, err := kmsService.OpenKeeper(ctx, kmsKeyURI)
	if err != nil {
		return "", fmt.Errorf("failed to open KMS keeper: %w", err)
	}
	defer func() {
		if closeErr := keeper.Close(); closeErr != nil {
			logger.Warn("failed to close KMS keeper", slog.Any("error", closeErr))
		}
	}()

	ciphertext, err := keeper.Encrypt(ctx, masterKey)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt master key with KMS: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}
