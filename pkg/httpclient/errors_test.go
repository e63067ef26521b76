package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/storeline/walkin/pkg/errors"
)

func errResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func TestParseResponseError_StructuredNotFound(t *testing.T) {
	resp := errResponse(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"product missing"}}`)

	err := ParseResponseError(resp, "catalog")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}

func TestParseResponseError_StructuredUnprocessable(t *testing.T) {
	resp := errResponse(http.StatusUnprocessableEntity, `{"error":{"code":"PRODUCT_INACTIVE","message":"product is discontinued"}}`)

	err := ParseResponseError(resp, "catalog")
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "PRODUCT_INACTIVE", appErr.Code)
	assert.Equal(t, http.StatusUnprocessableEntity, appErr.Status)
}

func TestParseResponseError_UnstructuredBody(t *testing.T) {
	resp := errResponse(http.StatusBadGateway, "upstream down")

	err := ParseResponseError(resp, "catalog")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(http.StatusBadRequest))
	assert.True(t, IsClientError(http.StatusNotFound))
	assert.False(t, IsClientError(http.StatusOK))
	assert.False(t, IsClientError(http.StatusInternalServerError))
}
