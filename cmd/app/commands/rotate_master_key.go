package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
)

// RunRotateMasterKey generates a new master key, appends it to existingMasterKeys and
// prints the configuration that makes it active. Entry keys wrapped by an older master
// key still unwrap as long as that key stays in MASTER_KEYS; only new entry keys are
// wrapped by the new one.
func RunRotateMasterKey(
	ctx context.Context,
	kmsService cryptoDomain.KeeperOpener,
	logger *slog.Logger,
	writer io.Writer,
	keyID, kmsProvider, kmsKeyURI, existingMasterKeys, existingActiveKeyID string,
) error {
	if (kmsProvider == "") != (kmsKeyURI == "") {
		return errKMSFlagsIncomplete
	}
	if existingMasterKeys == "" {
		return errors.New("MASTER_KEYS is not set, cannot rotate without existing keys")
	}
	if existingActiveKeyID == "" {
		return errors.New("ACTIVE_MASTER_KEY_ID is not set")
	}

	if keyID == "" {
		keyID = defaultMasterKeyID()
	}
	for part := range strings.SplitSeq(existingMasterKeys, ",") {
		if id, _, _ := strings.Cut(strings.TrimSpace(part), ":"); id == keyID {
			return fmt.Errorf("master key id %q already exists", keyID)
		}
	}

	encodedKey, err := newEncodedMasterKey(ctx, kmsService, kmsKeyURI, logger)
	if err != nil {
		return err
	}

	newMasterKeys := fmt.Sprintf("%s,%s:%s", existingMasterKeys, keyID, encodedKey)

	_, _ = fmt.Fprintln(writer, "# Master Key Rotation")
	_, _ = fmt.Fprintln(writer, "# Update these environment variables in your .env file or secrets manager")
	_, _ = fmt.Fprintln(writer)
	if kmsProvider != "" {
		_, _ = fmt.Fprintf(writer, "KMS_PROVIDER=\"%s\"\n", kmsProvider)
		_, _ = fmt.Fprintf(writer, "KMS_KEY_URI=\"%s\"\n", kmsKeyURI)
	}
	_, _ = fmt.Fprintf(writer, "MASTER_KEYS=\"%s\"\n", newMasterKeys)
	_, _ = fmt.Fprintf(writer, "ACTIVE_MASTER_KEY_ID=\"%s\"\n", keyID)
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintf(writer, "# Keep %q in MASTER_KEYS: existing entry keys are still wrapped by it.\n", existingActiveKeyID)

	logger.Info("master key rotated",
		slog.String("previous_key_id", existingActiveKeyID),
		slog.String("key_id", keyID),
	)
	return nil
}
