package apierror

import (
	"fmt"
	"net/http"
)

// APIError is an error that carries the HTTP status and machine-readable
// code the handler layer should respond with.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	HTTPStatus int    `json:"-"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code string, message string, details string, status int) *APIError {
	return &APIError{Code: code, Message: message, Details: details, HTTPStatus: status}
}

// BadRequest is shorthand for malformed client input.
func BadRequest(message string) *APIError {
	return New("BAD_REQUEST", message, "", http.StatusBadRequest)
}

// Unauthorized is shorthand for missing or rejected credentials.
func Unauthorized(message string) *APIError {
	return New("UNAUTHORIZED", message, "", http.StatusUnauthorized)
}

// Upstream wraps an error response relayed from the backend service,
// preserving its status so the caller sees the backend's verdict.
func Upstream(status int, message string) *APIError {
	code := "UPSTREAM_ERROR"
	switch {
	case status == http.StatusUnauthorized:
		code = "UNAUTHORIZED"
	case status == http.StatusForbidden:
		code = "FORBIDDEN"
	case status >= 500:
		code = "UPSTREAM_UNAVAILABLE"
	case status >= 400:
		code = "UPSTREAM_REJECTED"
	}
	return New(code, message, "", status)
}
