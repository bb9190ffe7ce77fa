// Package response provides standardized JSON response helpers for the
// OpenAI-compatible API surface.
package response

import (
	"net/http"

	app_errors "fm-serve/internal/errors"

	"github.com/gin-gonic/gin"
)

// OpenAIError is the `error` object of the OpenAI-compatible error body.
type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// OpenAIErrorResponse is the error body returned by every /v1 endpoint.
type OpenAIErrorResponse struct {
	Error OpenAIError `json:"error"`
}

// Success sends a plain JSON payload with status 200.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, data)
}

// Error sends an OpenAI-compatible error response from an APIError.
func Error(c *gin.Context, apiErr *app_errors.APIError) {
	c.JSON(apiErr.HTTPStatus, OpenAIErrorResponse{
		Error: OpenAIError{
			Message: apiErr.Message,
			Type:    apiErr.OpenAIErrorType(),
			Code:    apiErr.Code,
		},
	})
}

// ValidationError sends a 400 invalid_request_error with the given message.
func ValidationError(c *gin.Context, message string) {
	Error(c, app_errors.NewAPIError(app_errors.ErrValidation, message))
}
