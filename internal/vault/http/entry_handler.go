// Package http provides HTTP handlers for vault entries.
package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	cryptoDomain "github.com/allisson/safestring/internal/crypto/domain"
	"github.com/allisson/safestring/internal/httputil"
	customValidation "github.com/allisson/safestring/internal/validation"
	"github.com/allisson/safestring/internal/vault/http/dto"
	vaultUseCase "github.com/allisson/safestring/internal/vault/usecase"
)

// EntryHandler handles HTTP requests for vault entries.
type EntryHandler struct {
	vaultUseCase vaultUseCase.VaultUseCase
	logger       *slog.Logger
}

// NewEntryHandler creates a new entry handler.
func NewEntryHandler(vaultUseCase vaultUseCase.VaultUseCase, logger *slog.Logger) *EntryHandler {
	return &EntryHandler{
		vaultUseCase: vaultUseCase,
		logger:       logger,
	}
}

// entryName extracts and validates the catch-all name parameter.
func (h *EntryHandler) entryName(c *gin.Context) (string, bool) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	if err := dto.ValidateEntryName(name); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return "", false
	}
	return name, true
}

// SaveHandler encrypts and stores a value, replacing any previous one.
// PUT /v1/entries/*name - Returns 204 No Content.
func (h *EntryHandler) SaveHandler(c *gin.Context) {
	name, ok := h.entryName(c)
	if !ok {
		return
	}

	var req dto.SaveEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.HandleBadRequestGin(c, err, h.logger)
		return
	}

	if err := req.Validate(); err != nil {
		httputil.HandleValidationErrorGin(c, customValidation.WrapValidationError(err), h.logger)
		return
	}

	value := []byte(*req.Value)
	defer cryptoDomain.Zero(value)

	if err := h.vaultUseCase.Save(c.Request.Context(), name, value); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetHandler decrypts and returns a value.
// GET /v1/entries/*name - Returns 200 OK, 404 when absent, 422 when undecryptable.
func (h *EntryHandler) GetHandler(c *gin.Context) {
	name, ok := h.entryName(c)
	if !ok {
		return
	}

	value, err := h.vaultUseCase.Retrieve(c.Request.Context(), name)
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}
	defer cryptoDomain.Zero(value)

	c.JSON(http.StatusOK, dto.MapEntryToResponse(name, value))
}

// DeleteHandler removes an entry and its key. Deleting a missing entry succeeds.
// DELETE /v1/entries/*name - Returns 204 No Content.
func (h *EntryHandler) DeleteHandler(c *gin.Context) {
	name, ok := h.entryName(c)
	if !ok {
		return
	}

	if err := h.vaultUseCase.Delete(c.Request.Context(), name); err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListHandler returns the names of all stored entries.
// GET /v1/entries - Returns 200 OK.
func (h *EntryHandler) ListHandler(c *gin.Context) {
	names, err := h.vaultUseCase.List(c.Request.Context())
	if err != nil {
		httputil.HandleErrorGin(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, dto.MapNamesToListResponse(names))
}
