package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode string

// Error codes for different categories
const (
	// Authentication against the upstream (1xxx)
	ErrCodeAuthExhausted ErrorCode = "AUTH_1001"
	ErrCodeAuthInvalid   ErrorCode = "AUTH_1002"

	// Upstream transport (2xxx)
	ErrCodeUpstreamUnavailable  ErrorCode = "HTTP_2001"
	ErrCodeUpstreamTimeout      ErrorCode = "HTTP_2002"
	ErrCodeUpstreamUnauthorized ErrorCode = "HTTP_2003"

	// Field discovery (3xxx)
	ErrCodeSchemaMismatch       ErrorCode = "DISCOVERY_3001"
	ErrCodeDiscoveryUnreachable ErrorCode = "DISCOVERY_3002"

	// Metrics aggregation (4xxx)
	ErrCodePartialFailure   ErrorCode = "METRICS_4001"
	ErrCodeUpstreamRejected ErrorCode = "METRICS_4002"

	// Dashboard API surface (5xxx)
	ErrCodeInvalidRequest     ErrorCode = "VALID_5001"
	ErrCodeInvalidCredentials ErrorCode = "VALID_5002"
	ErrCodeRateLimitExceeded  ErrorCode = "RATE_5003"
)

// AppError represents a structured application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Cause   error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// New creates an AppError with the given code and message.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap creates an AppError carrying an underlying cause.
func Wrap(code ErrorCode, message string, cause error) *AppError {
	e := &AppError{Code: code, Message: message, Cause: cause}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// Is lets errors.Is match two AppErrors by code, ignoring details.
func (e *AppError) Is(target error) bool {
	var other *AppError
	if !errors.As(target, &other) {
		return false
	}
	return e.Code == other.Code
}

// CodeOf extracts the ErrorCode from err, or "" when err is not an AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HTTPStatus maps an error to the status the route layer should answer with.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case ErrCodeInvalidCredentials, ErrCodeAuthInvalid, ErrCodeUpstreamUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case ErrCodeAuthExhausted, ErrCodeUpstreamUnavailable, ErrCodeDiscoveryUnreachable:
		return http.StatusBadGateway
	case ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Sentinel values for errors.Is checks across package boundaries.
var (
	ErrAuthExhausted       = New(ErrCodeAuthExhausted, "authentication attempts exhausted")
	ErrAuthInvalid         = New(ErrCodeAuthInvalid, "invalid upstream credentials")
	ErrUpstreamUnavailable = New(ErrCodeUpstreamUnavailable, "upstream service unavailable")
	ErrUpstreamTimeout     = New(ErrCodeUpstreamTimeout, "upstream request timed out")
	ErrUnauthorized        = New(ErrCodeUpstreamUnauthorized, "upstream rejected the session token")
	ErrSchemaMismatch      = New(ErrCodeSchemaMismatch, "unexpected upstream schema")
	ErrDiscoveryFailed     = New(ErrCodeDiscoveryUnreachable, "field discovery endpoint unreachable")
	ErrPartialFailure      = New(ErrCodePartialFailure, "partial tier aggregation failure")
	ErrUpstreamRejected    = New(ErrCodeUpstreamRejected, "upstream rejected the metrics query")
)
