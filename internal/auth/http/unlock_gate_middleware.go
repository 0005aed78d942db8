// Package http provides the HTTP middleware guarding the vault API: the unlock gate and
// per-IP rate limiting.
package http

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	authService "github.com/allisson/safestring/internal/auth/service"
	apperrors "github.com/allisson/safestring/internal/errors"
	"github.com/allisson/safestring/internal/httputil"
)

// UnlockTokenHeader carries the plain unlock token.
const UnlockTokenHeader = "X-Unlock-Token"

// UnlockGateMiddleware refuses vault requests until the caller presents the unlock token
// whose Argon2id hash is configured on the server.
//
// Error handling:
//   - Missing X-Unlock-Token header → 423 Locked
//   - Token not matching tokenHash → 401 Unauthorized
//
// The token itself is never logged.
func UnlockGateMiddleware(
	tokenService authService.UnlockTokenService,
	tokenHash string,
	logger *slog.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		plainToken := c.GetHeader(UnlockTokenHeader)
		if plainToken == "" {
			logger.Debug("unlock gate: missing unlock token", slog.String("path", c.FullPath()))
			httputil.HandleErrorGin(c, apperrors.ErrLocked, logger)
			return
		}

		if !tokenService.VerifyToken(plainToken, tokenHash) {
			logger.Warn("unlock gate: invalid unlock token", slog.String("client_ip", c.ClientIP()))
			httputil.HandleErrorGin(c, apperrors.ErrUnauthorized, logger)
			return
		}

		c.Next()
	}
}
