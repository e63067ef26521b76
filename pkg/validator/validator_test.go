package validator

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type orderPayload struct {
	CustomerName  string `json:"customer_name" validate:"omitempty,max=120"`
	CustomerEmail string `json:"customer_email" validate:"omitempty,email"`
	PaymentMethod string `json:"payment_method" validate:"required,oneof=cash card mobile"`
	Quantity      int    `json:"quantity" validate:"required,gte=1"`
}

func TestValidate_Valid(t *testing.T) {
	err := Validate(orderPayload{PaymentMethod: "cash", Quantity: 3})
	assert.NoError(t, err)
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	err := Validate(orderPayload{CustomerEmail: "not-an-email", PaymentMethod: "barter"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)

	fields := valErr.Fields()
	assert.Equal(t, "must be a valid email address", fields["customer_email"])
	assert.Equal(t, "must be one of: cash card mobile", fields["payment_method"])
	assert.Equal(t, "is required", fields["quantity"])
}

func TestValidationError_Error(t *testing.T) {
	err := Validate(orderPayload{PaymentMethod: "cash"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field 'quantity' is required")
}

func TestDecodeAndValidate(t *testing.T) {
	body := `{"payment_method":"card","quantity":2}`
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(body))

	var dst orderPayload
	err := DecodeAndValidate(req, &dst)
	require.NoError(t, err)
	assert.Equal(t, "card", dst.PaymentMethod)
	assert.Equal(t, 2, dst.Quantity)
}

func TestDecodeAndValidate_MalformedJSON(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(`{"quantity":`))

	var dst orderPayload
	err := DecodeAndValidate(req, &dst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

func TestDecodeAndValidate_ValidationFailure(t *testing.T) {
	req := httptest.NewRequest("POST", "/api/v1/orders", strings.NewReader(`{"quantity":0}`))

	var dst orderPayload
	err := DecodeAndValidate(req, &dst)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Contains(t, valErr.Fields(), "payment_method")
}
