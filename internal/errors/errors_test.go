package errors

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestAPIError_Error tests the Error method implementation
func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name     string
		apiError *APIError
		expected string
	}{
		{
			name:     "standard error",
			apiError: ErrBadRequest,
			expected: "Invalid request parameters",
		},
		{
			name:     "custom error",
			apiError: &APIError{HTTPStatus: 500, Code: "TEST", Message: "Test message"},
			expected: "Test message",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.apiError.Error())
		})
	}
}

// TestPredefinedErrors tests all predefined error constants
func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *APIError
		statusCode int
		code       string
	}{
		{"ErrBadRequest", ErrBadRequest, http.StatusBadRequest, "BAD_REQUEST"},
		{"ErrInvalidJSON", ErrInvalidJSON, http.StatusBadRequest, "INVALID_JSON"},
		{"ErrValidation", ErrValidation, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"ErrResourceNotFound", ErrResourceNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"ErrModelNotFound", ErrModelNotFound, http.StatusNotFound, "MODEL_NOT_FOUND"},
		{"ErrInternalServer", ErrInternalServer, http.StatusInternalServerError, "INTERNAL_SERVER_ERROR"},
		{"ErrDatabase", ErrDatabase, http.StatusInternalServerError, "DATABASE_ERROR"},
		{"ErrUnauthorized", ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"ErrBadGateway", ErrBadGateway, http.StatusBadGateway, "BAD_GATEWAY"},
		{"ErrRenderFailed", ErrRenderFailed, http.StatusBadRequest, "TEMPLATE_RENDER_FAILED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.statusCode, tt.err.HTTPStatus)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Message)
		})
	}
}

// TestNewAPIError tests creating a new API error with custom message
func TestNewAPIError(t *testing.T) {
	customMsg := "Custom error message"
	err := NewAPIError(ErrBadRequest, customMsg)

	assert.Equal(t, ErrBadRequest.HTTPStatus, err.HTTPStatus)
	assert.Equal(t, ErrBadRequest.Code, err.Code)
	assert.Equal(t, customMsg, err.Message)

	// The predefined error must not be mutated
	assert.Equal(t, "Invalid request parameters", ErrBadRequest.Message)
}

// TestNewAPIErrorWithUpstream tests creating an error from an upstream response
func TestNewAPIErrorWithUpstream(t *testing.T) {
	err := NewAPIErrorWithUpstream(http.StatusBadGateway, "UPSTREAM_ERROR", "Upstream service returned an error")

	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus)
	assert.Equal(t, "UPSTREAM_ERROR", err.Code)
	assert.Equal(t, "Upstream service returned an error", err.Message)
}

// TestOpenAIErrorType tests mapping onto the OpenAI wire error type
func TestOpenAIErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		expected string
	}{
		{"validation", ErrValidation, "invalid_request_error"},
		{"not found", ErrModelNotFound, "invalid_request_error"},
		{"unauthorized", ErrUnauthorized, "authentication_error"},
		{"internal", ErrInternalServer, "server_error"},
		{"bad gateway", ErrBadGateway, "server_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.OpenAIErrorType())
		})
	}
}
