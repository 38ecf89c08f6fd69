package core

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of an API error.
type ErrorType int

// Error type constants categorize errors for proper handling and retry logic.
const (
	// ErrorTypeUnknown indicates an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeNetwork indicates a network connectivity issue.
	ErrorTypeNetwork
	// ErrorTypeTimeout indicates the request exceeded its deadline.
	ErrorTypeTimeout
	// ErrorTypeRateLimit indicates rate limit was exceeded.
	ErrorTypeRateLimit
	// ErrorTypeAuthentication indicates invalid or expired credentials.
	ErrorTypeAuthentication
	// ErrorTypeBadRequest indicates invalid request parameters.
	ErrorTypeBadRequest
	// ErrorTypeNotFound indicates the requested resource does not exist.
	ErrorTypeNotFound
	// ErrorTypeServerError indicates a server-side error.
	ErrorTypeServerError
	// ErrorTypeDeserialize indicates the response body could not be decoded.
	ErrorTypeDeserialize
	// ErrorTypeTimeSync indicates the server time could not be measured.
	ErrorTypeTimeSync
)

// String returns the string representation of the error type.
func (t ErrorType) String() string {
	return [...]string{
		"UNKNOWN",
		"NETWORK",
		"TIMEOUT",
		"RATE_LIMIT",
		"AUTHENTICATION",
		"BAD_REQUEST",
		"NOT_FOUND",
		"SERVER_ERROR",
		"DESERIALIZE",
		"TIME_SYNC",
	}[t]
}

// Sentinel errors for common error conditions.
var (
	// ErrClientClosed is returned when attempting to use a closed client.
	ErrClientClosed = errors.New("client is closed")
	// ErrNoCredentials is returned when a signed request is sent without credentials.
	ErrNoCredentials = errors.New("no credentials configured")
	// ErrQuotaExceeded is returned by an admission gate that rejects a request.
	ErrQuotaExceeded = errors.New("rate limit quota exceeded")
	// ErrWeightExceedsBurst is returned when a single request can never fit in a bucket.
	ErrWeightExceedsBurst = errors.New("request weight exceeds bucket capacity")
	// ErrCircuitOpen is returned while the circuit breaker rejects requests.
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// APIError represents a structured error returned by a remote API.
// It keeps the raw response body for debugging.
type APIError struct {
	// Type categorizes the error for programmatic handling.
	Type ErrorType `json:"type"`
	// StatusCode is the HTTP status code from the response.
	StatusCode int `json:"status_code"`
	// Code is the API-specific error code.
	Code string `json:"code"`
	// Message is the human-readable error description.
	Message string `json:"message"`
	// RawError contains the original error response for debugging.
	RawError any `json:"raw_error,omitempty"`
	// API identifies which API returned this error.
	API string `json:"api"`
	// RequestID is the correlation id of the failed request.
	RequestID int64 `json:"request_id,omitempty"`
	// Timestamp is when the error occurred.
	Timestamp time.Time `json:"timestamp"`
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s (%d/%s): %s",
			e.API, e.Type, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s (%d): %s",
		e.API, e.Type, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause when RawError holds one.
func (e *APIError) Unwrap() error {
	if err, ok := e.RawError.(error); ok {
		return err
	}
	return nil
}

// WithCode sets the error code and returns the error for chaining.
func (e *APIError) WithCode(code ErrorCode) *APIError {
	e.Code = string(code)
	return e
}

// NewAPIError creates a new APIError with the specified details.
// The timestamp is automatically set to the current time.
func NewAPIError(api string, errorType ErrorType, statusCode int, message string) *APIError {
	return &APIError{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
		API:        api,
		Timestamp:  time.Now(),
	}
}

// ErrorTypeFromStatus maps an HTTP status code to an ErrorType.
func ErrorTypeFromStatus(statusCode int) ErrorType {
	switch {
	case statusCode >= 500:
		return ErrorTypeServerError
	case statusCode == 429 || statusCode == 418:
		return ErrorTypeRateLimit
	case statusCode == 401 || statusCode == 403:
		return ErrorTypeAuthentication
	case statusCode == 400:
		return ErrorTypeBadRequest
	case statusCode == 404:
		return ErrorTypeNotFound
	case statusCode == 408:
		return ErrorTypeTimeout
	default:
		return ErrorTypeUnknown
	}
}

// DeserializeErrorKind classifies why a response body could not be decoded.
type DeserializeErrorKind int

const (
	// KindEmptyBody indicates an empty or absent payload.
	KindEmptyBody DeserializeErrorKind = iota
	// KindMalformedSyntax indicates the payload is not valid JSON.
	KindMalformedSyntax
	// KindSchemaMismatch indicates valid JSON that does not fit the target type.
	KindSchemaMismatch
	// KindUnknown indicates any other decoding failure.
	KindUnknown
)

// String returns the string representation of the kind.
func (k DeserializeErrorKind) String() string {
	return [...]string{
		"EMPTY_BODY",
		"MALFORMED_SYNTAX",
		"SCHEMA_MISMATCH",
		"UNKNOWN",
	}[k]
}

// RawUnavailable replaces the raw payload of a failure whose body was consumed
// by a non-seekable stream.
const RawUnavailable = "[data only available at trace log level]"

// DeserializeError describes a response body that could not be decoded.
type DeserializeError struct {
	Kind    DeserializeErrorKind `json:"kind"`
	Message string               `json:"message"`
	// Raw is the original payload when it could be recovered, or RawUnavailable.
	Raw          string `json:"raw,omitempty"`
	RawAvailable bool   `json:"raw_available"`
	// Position is the byte offset of a syntax error, -1 when unknown.
	Position      int   `json:"position"`
	CorrelationID int64 `json:"correlation_id,omitempty"`
}

func (e *DeserializeError) Error() string {
	return fmt.Sprintf("deserialize %s: %s", e.Kind, e.Message)
}

// TimeSyncError wraps a failure to measure the server time.
type TimeSyncError struct {
	Err error
}

func (e *TimeSyncError) Error() string {
	return fmt.Sprintf("time sync: %v", e.Err)
}

func (e *TimeSyncError) Unwrap() error {
	return e.Err
}

// RateLimitError is returned by an admission gate that rejected a request or
// whose wait was interrupted.
type RateLimitError struct {
	Reason   string        `json:"reason"`
	Endpoint string        `json:"endpoint"`
	Waited   time.Duration `json:"waited"`
	Err      error         `json:"-"`
}

func (e *RateLimitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rate limit %s: %s: %v", e.Endpoint, e.Reason, e.Err)
	}
	return fmt.Sprintf("rate limit %s: %s", e.Endpoint, e.Reason)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsNetworkError returns true if the error is a network connectivity issue.
// Network errors are typically retryable.
func IsNetworkError(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Type == ErrorTypeNetwork
}

// IsTimeoutError returns true if the error is a timeout.
func IsTimeoutError(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Type == ErrorTypeTimeout
}

// IsRateLimitError returns true if the error is a rate limit violation,
// either reported by the server or raised by a local admission gate.
func IsRateLimitError(err error) bool {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var e *APIError
	return errors.As(err, &e) && e.Type == ErrorTypeRateLimit
}

// IsAuthenticationError returns true if the error is an authentication failure.
// Authentication errors require credential validation and are not retryable.
func IsAuthenticationError(err error) bool {
	var e *APIError
	return errors.As(err, &e) && e.Type == ErrorTypeAuthentication
}

// IsDeserializeError returns true if the error is a decoding failure.
func IsDeserializeError(err error) bool {
	var e *DeserializeError
	return errors.As(err, &e)
}

// IsTimeSyncError returns true if the error came from clock synchronization.
func IsTimeSyncError(err error) bool {
	var e *TimeSyncError
	return errors.As(err, &e)
}
