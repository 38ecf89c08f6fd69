package core

import "errors"

// ErrorCode represents a stable, machine-readable error identifier.
type ErrorCode string

const (
	ErrCodeNetwork     ErrorCode = "NETWORK_ERROR"
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeRateLimit   ErrorCode = "RATE_LIMIT"
	ErrCodeAuth        ErrorCode = "AUTH_ERROR"
	ErrCodeBadRequest  ErrorCode = "BAD_REQUEST"
	ErrCodeNotFound    ErrorCode = "NOT_FOUND"
	ErrCodeServerError ErrorCode = "SERVER_ERROR"

	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeClientClosed  ErrorCode = "CLIENT_CLOSED"
	ErrCodeNoCredentials ErrorCode = "NO_CREDENTIALS"
)

// IsErrorCode checks if the error is an APIError carrying the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return ErrorCode(apiErr.Code) == code
	}
	return false
}
