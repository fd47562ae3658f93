package types

import (
	"fmt"
	"net/http"
)

// ErrorCode is the closed taxonomy of action failures
type ErrorCode string

const (
	ErrorCodeValidation     ErrorCode = "VALIDATION_ERROR"
	ErrorCodeAuthentication ErrorCode = "AUTHENTICATION_ERROR"
	ErrorCodePermission     ErrorCode = "PERMISSION_ERROR"
	ErrorCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrorCodeConflict       ErrorCode = "CONFLICT"
	ErrorCodeProvider       ErrorCode = "PROVIDER_ERROR"
	ErrorCodeTimeout        ErrorCode = "TIMEOUT_ERROR"
	ErrorCodeInternal       ErrorCode = "INTERNAL_ERROR"
)

// AllErrorCodes returns all valid error codes
func AllErrorCodes() []ErrorCode {
	return []ErrorCode{
		ErrorCodeValidation,
		ErrorCodeAuthentication,
		ErrorCodePermission,
		ErrorCodeNotFound,
		ErrorCodeConflict,
		ErrorCodeProvider,
		ErrorCodeTimeout,
		ErrorCodeInternal,
	}
}

// IsValid checks if the error code is part of the taxonomy
func (c ErrorCode) IsValid() bool {
	switch c {
	case ErrorCodeValidation,
		ErrorCodeAuthentication,
		ErrorCodePermission,
		ErrorCodeNotFound,
		ErrorCodeConflict,
		ErrorCodeProvider,
		ErrorCodeTimeout,
		ErrorCodeInternal:
		return true
	default:
		return false
	}
}

// Retryable reports whether the pipeline may retry a failure with this code.
// Only vendor-side transient failures and timeouts are retried.
func (c ErrorCode) Retryable() bool {
	return c == ErrorCodeProvider || c == ErrorCodeTimeout
}

// HTTPStatus returns the HTTP status an HTTP-facing wrapper should use
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrorCodeValidation:
		return http.StatusBadRequest
	case ErrorCodeAuthentication:
		return http.StatusUnauthorized
	case ErrorCodePermission:
		return http.StatusForbidden
	case ErrorCodeNotFound:
		return http.StatusNotFound
	case ErrorCodeConflict:
		return http.StatusConflict
	case ErrorCodeProvider:
		return http.StatusBadGateway
	case ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// String returns the string representation of the error code
func (c ErrorCode) String() string {
	return string(c)
}

// ParseErrorCode parses a string into an ErrorCode
func ParseErrorCode(s string) (ErrorCode, error) {
	c := ErrorCode(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid error code: %s", s)
	}
	return c, nil
}
