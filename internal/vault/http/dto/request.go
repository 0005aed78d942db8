// Package dto provides data transfer objects for HTTP request and response handling.
package dto

import (
	validation "github.com/jellydator/validation"

	customValidation "github.com/allisson/safestring/internal/validation"
)

// SaveEntryRequest contains the value to store. The name is taken from the URL.
// An empty value is allowed; an absent one is not.
type SaveEntryRequest struct {
	Value *string `json:"value"`
}

// Validate checks if the save entry request is valid.
func (r *SaveEntryRequest) Validate() error {
	return validation.ValidateStruct(r,
		validation.Field(&r.Value, validation.NotNil),
	)
}

// ValidateEntryName checks the entry name taken from the URL.
func ValidateEntryName(name string) error {
	return validation.Errors{
		"name": validation.Validate(name, validation.Required, customValidation.EntryName),
	}.Filter()
}
