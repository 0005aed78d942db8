package dto

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSaveEntryRequest_Validate(t *testing.T) {
	value := "s3cr3t"
	empty := ""

	tests := []struct {
		name      string
		request   SaveEntryRequest
		shouldErr bool
	}{
		{name: "value present", request: SaveEntryRequest{Value: &value}},
		{name: "empty value", request: SaveEntryRequest{Value: &empty}},
		{name: "missing value", request: SaveEntryRequest{}, shouldErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.shouldErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEntryName(t *testing.T) {
	assert.NoError(t, ValidateEntryName("db/password"))

	err := ValidateEntryName("")
	assert.ErrorContains(t, err, "name: cannot be blank")

	err = ValidateEntryName(strings.Repeat("x", 800))
	assert.ErrorContains(t, err, "name: must be at most 763 bytes long")
}

func TestMapNamesToListResponse(t *testing.T) {
	assert.Equal(t, []string{}, MapNamesToListResponse(nil).Data)
	assert.Equal(t, []string{"a", "b"}, MapNamesToListResponse([]string{"a", "b"}).Data)
}
