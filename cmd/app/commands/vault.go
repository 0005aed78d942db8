package commands

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	vaultUseCase "github.com/allisson/safestring/internal/vault/usecase"
)

// RunSave stores value under name. When readStdin is set the value is read from
// streams.Reader instead, with a single trailing newline removed.
func RunSave(
	ctx context.Context,
	vault vaultUseCase.VaultUseCase,
	logger *slog.Logger,
	streams IOTuple,
	name, value string,
	readStdin bool,
) error {
	raw := []byte(value)
	if readStdin {
		data, err := readValue(streams.Reader)
		if err != nil {
			return err
		}
		raw = data
	}
	defer cryptoDomain.Zero(raw)

	if err := vault.Save(ctx, name, raw); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}

	_, _ = fmt.Fprintf(streams.Writer, "Saved entry %q\n", name)
	logger.Info("entry saved", slog.Int("value_size", len(raw)))
	return nil
}

// RunGet prints the value stored under name.
func RunGet(
	ctx context.Context,
	vault vaultUseCase.VaultUseCase,
	writer io.Writer,
	name, format string,
) error {
	value, err := vault.Retrieve(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to retrieve entry: %w", err)
	}
	defer cryptoDomain.Zero(value)

	if format == "json" {
		return writeJSON(writer, map[string]string{
			"name":  name,
			"value": string(value),
		})
	}

	_, err = fmt.Fprintln(writer, string(value))
	return err
}

// RunList prints every stored name, one per line, in ascending byte order.
func RunList(
	ctx context.Context,
	vault vaultUseCase.VaultUseCase,
	writer io.Writer,
	format string,
) error {
	names, err := vault.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	if format == "json" {
		if names == nil {
			names = []string{}
		}
		return writeJSON(writer, map[string][]string{"data": names})
	}

	for _, name := range names {
		if _, err := fmt.Fprintln(writer, name); err != nil {
			return err
		}
	}
	return nil
}

// RunDelete removes the entry stored under name. Deleting a missing name succeeds.
func RunDelete(
	ctx context.Context,
	vault vaultUseCase.VaultUseCase,
	logger *slog.Logger,
	writer io.Writer,
	name string,
) error {
	if err := vault.Delete(ctx, name); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}

	_, _ = fmt.Fprintf(writer, "Deleted entry %q\n", name)
	logger.Info("entry deleted")
	return nil
}

func readValue(reader io.Reader) ([]byte, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read value: %w", err)
	}
	data = bytes.TrimSuffix(data, []byte("\n"))
	return bytes.TrimSuffix(data, []byte("\r")), nil
}
