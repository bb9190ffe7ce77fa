// Package errors defines the application error types shared across the
// HTTP surface.
package errors

import "net/http"

// APIError represents a structured application error with an associated HTTP
// status code.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// Predefined application errors.
var (
	ErrBadRequest       = &APIError{HTTPStatus: http.StatusBadRequest, Code: "BAD_REQUEST", Message: "Invalid request parameters"}
	ErrInvalidJSON      = &APIError{HTTPStatus: http.StatusBadRequest, Code: "INVALID_JSON", Message: "Invalid JSON format"}
	ErrValidation       = &APIError{HTTPStatus: http.StatusBadRequest, Code: "VALIDATION_FAILED", Message: "Request validation failed"}
	ErrResourceNotFound = &APIError{HTTPStatus: http.StatusNotFound, Code: "NOT_FOUND", Message: "Resource not found"}
	ErrModelNotFound    = &APIError{HTTPStatus: http.StatusNotFound, Code: "MODEL_NOT_FOUND", Message: "The requested model is not served by any backend"}
	ErrInternalServer   = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "INTERNAL_SERVER_ERROR", Message: "Internal server error"}
	ErrDatabase         = &APIError{HTTPStatus: http.StatusInternalServerError, Code: "DATABASE_ERROR", Message: "Database operation failed"}
	ErrUnauthorized     = &APIError{HTTPStatus: http.StatusUnauthorized, Code: "UNAUTHORIZED", Message: "Authentication required"}
	ErrBadGateway       = &APIError{HTTPStatus: http.StatusBadGateway, Code: "BAD_GATEWAY", Message: "Upstream backend error"}
	ErrRenderFailed     = &APIError{HTTPStatus: http.StatusBadRequest, Code: "TEMPLATE_RENDER_FAILED", Message: "Failed to render the chat template for this request"}
)

// NewAPIError creates a copy of a predefined error with a custom message.
func NewAPIError(base *APIError, message string) *APIError {
	return &APIError{
		HTTPStatus: base.HTTPStatus,
		Code:       base.Code,
		Message:    message,
	}
}

// NewAPIErrorWithUpstream creates an error that carries an upstream backend's
// status code and message through to the caller.
func NewAPIErrorWithUpstream(statusCode int, code string, message string) *APIError {
	return &APIError{
		HTTPStatus: statusCode,
		Code:       code,
		Message:    message,
	}
}

// OpenAIErrorType maps an APIError onto the `error.type` field of the
// OpenAI-compatible wire format.
func (e *APIError) OpenAIErrorType() string {
	switch {
	case e.HTTPStatus == http.StatusUnauthorized:
		return "authentication_error"
	case e.HTTPStatus == http.StatusNotFound:
		return "invalid_request_error"
	case e.HTTPStatus >= 400 && e.HTTPStatus < 500:
		return "invalid_request_error"
	default:
		return "server_error"
	}
}
