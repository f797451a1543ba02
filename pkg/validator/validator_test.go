package validator

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addressInput struct {
	FullName string `json:"full_name" validate:"required,max=10"`
	Country  string `json:"country" validate:"required,iso3166_1_alpha2"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=100"`
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(addressInput{FullName: "Ada", Country: "TR", Quantity: 2}))
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(addressInput{Country: "XX", Quantity: 0})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "is required", fields["full_name"])
	assert.Equal(t, "must be an ISO 3166-1 alpha-2 country code", fields["country"])
	assert.Equal(t, "must be greater than or equal to 1", fields["quantity"])
}

func TestValidate_StringLength(t *testing.T) {
	err := Validate(addressInput{FullName: "A very long name", Country: "DE", Quantity: 1})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "must be at most 10 characters", valErr.Fields()["full_name"])
	assert.Contains(t, valErr.Error(), "full_name")
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"full_name":"Ada","country":"US","quantity":3}`))

	var dst addressInput
	require.NoError(t, DecodeAndValidate(req, &dst))
	assert.Equal(t, 3, dst.Quantity)
}

func TestDecodeAndValidate_RejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"full_name":"Ada","country":"US","quantity":3,"price":"1.00"}`))

	var dst addressInput
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{`))

	var dst addressInput
	assert.Error(t, DecodeAndValidate(req, &dst))
}
