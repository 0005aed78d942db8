package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/allisson/safestring/internal/errors"
)

func TestEntry_KeyAlias(t *testing.T) {
	entry := &Entry{Name: "token"}
	assert.Equal(t, "key_token", entry.KeyAlias())
}

func TestErrors(t *testing.T) {
	assert.ErrorIs(t, ErrInvalidName, apperrors.ErrInvalidInput)
	assert.ErrorIs(t, ErrEntryNotFound, apperrors.ErrNotFound)
	assert.NotErrorIs(t, ErrDecryptionFailed, apperrors.ErrNotFound)
	assert.NotErrorIs(t, ErrDeleteIncomplete, apperrors.ErrNotFound)
}
