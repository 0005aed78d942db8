package commands

import (
	"fmt"
	"io"
	"log/slog"

	authService "github.com/allisson/safestring/internal/auth/service"
)

// RunHashUnlockToken prints the UNLOCK_TOKEN_HASH for token. When token is empty a new
// random token is generated and printed once alongside its hash.
func RunHashUnlockToken(
	tokenService authService.UnlockTokenService,
	logger *slog.Logger,
	writer io.Writer,
	token string,
) error {
	generated := token == ""

	var tokenHash string
	var err error
	if generated {
		token, tokenHash, err = tokenService.GenerateToken()
	} else {
		tokenHash, err = tokenService.HashToken(token)
	}
	if err != nil {
		return fmt.Errorf("failed to hash unlock token: %w", err)
	}

	_, _ = fmt.Fprintln(writer, "# Unlock Gate Configuration")
	_, _ = fmt.Fprintln(writer, "# Set this variable on the server to require X-Unlock-Token on /v1 requests")
	_, _ = fmt.Fprintln(writer)
	_, _ = fmt.Fprintf(writer, "UNLOCK_TOKEN_HASH=\"%s\"\n", tokenHash)
	if generated {
		_, _ = fmt.Fprintln(writer)
		_, _ = fmt.Fprintln(writer, "# Unlock token (shown only once, hand it to API clients):")
		_, _ = fmt.Fprintf(writer, "UNLOCK_TOKEN=\"%s\"\n", token)
	}

	logger.Info("unlock token hashed", slog.Bool("generated", generated))
	return nil
}
