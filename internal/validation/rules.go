// Package validation provides custom validation rules for the application.
package validation

import (
	"unicode"
	"unicode/utf8"

	validation "github.com/jellydator/validation"

	apperrors "github.com/allisson/safestring/internal/errors"
)

// MaxEntryNameLength is the longest entry name, in bytes, that the SQL backends can index
// together with the "key_" alias prefix. Blob backends store each name as one object file
// name and reject shorter names once escaped; see blobstore.CheckName.
const MaxEntryNameLength = 763

// WrapValidationError wraps validation errors as domain ErrInvalidInput
func WrapValidationError(err error) error {
	if err == nil {
		return nil
	}
	return apperrors.Wrap(apperrors.ErrInvalidInput, err.Error())
}

// EntryName validates that a string is usable as an entry name: valid UTF-8, free of
// control characters and at most MaxEntryNameLength bytes long. Emptiness is left to
// validation.Required.
var EntryName = validation.By(func(value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return validation.NewError("validation_entry_name_type", "must be a string")
	}

	if len(s) > MaxEntryNameLength {
		return validation.NewError("validation_entry_name_length", "must be at most 763 bytes long")
	}

	if !utf8.ValidString(s) {
		return validation.NewError("validation_entry_name_utf8", "must be valid UTF-8")
	}

	if hasControlChar(s) {
		return validation.NewError("validation_entry_name_control", "must not contain control characters")
	}

	return nil
})

// hasControlChar checks if string contains control characters
func hasControlChar(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
