package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Error codes used across the client
const (
	CodeNoToken            = "NO_TOKEN"
	CodeAPIStatus          = "API_STATUS"
	CodeNetwork            = "NETWORK_ERROR"
	CodeDecode             = "DECODE_ERROR"
	CodeCircuitOpen        = "CIRCUIT_OPEN"
	CodeAttachmentRejected = "ATTACHMENT_REJECTED"
	CodeNotFound           = "NOT_FOUND"
	CodeBadRequest         = "BAD_REQUEST"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code and error code
type AppError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	cause      error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause
func (e *AppError) Unwrap() error {
	return e.cause
}

// Is reports whether target is an AppError carrying the same code.
// It lets callers write errors.Is(err, ErrNoToken).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// NewError creates a new application error
func NewError(statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
	}
}

// Wrap creates an application error around a cause
func Wrap(cause error, statusCode int, code string, message string) *AppError {
	return &AppError{
		StatusCode: statusCode,
		Code:       code,
		Message:    message,
		cause:      cause,
	}
}

// Sentinels for errors.Is comparisons. Only the code matters.
var (
	ErrNoToken            = NewError(http.StatusUnauthorized, CodeNoToken, "no bearer token available")
	ErrAPIStatus          = NewError(http.StatusBadGateway, CodeAPIStatus, "api returned a non-success status")
	ErrNetwork            = NewError(http.StatusBadGateway, CodeNetwork, "api unreachable")
	ErrDecode             = NewError(http.StatusBadGateway, CodeDecode, "api response could not be decoded")
	ErrCircuitOpen        = NewError(http.StatusServiceUnavailable, CodeCircuitOpen, "api circuit open")
	ErrAttachmentRejected = NewError(http.StatusBadRequest, CodeAttachmentRejected, "attachment type not allowed")
)

// NewAPIStatusError describes a non-success response from the remote API
func NewAPIStatusError(op string, status int) *AppError {
	return NewError(status, CodeAPIStatus, fmt.Sprintf("%s: api returned status %d", op, status)).
		WithDetails(map[string]any{"op": op, "status": status})
}

// NewNetworkError describes a transport failure talking to the remote API
func NewNetworkError(op string, cause error) *AppError {
	return Wrap(cause, http.StatusBadGateway, CodeNetwork, op+": request failed")
}

// NewDecodeError describes a response body that did not match any tolerated shape
func NewDecodeError(op string, cause error) *AppError {
	return Wrap(cause, http.StatusBadGateway, CodeDecode, op+": unexpected response body")
}

// NewAttachmentRejectedError describes an upload blocked by the type allow-list
func NewAttachmentRejectedError(contentType string) *AppError {
	return NewError(http.StatusBadRequest, CodeAttachmentRejected, "attachment type not allowed").
		WithDetails(map[string]string{"content_type": contentType})
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(code string, message string) *AppError {
	return NewError(http.StatusBadRequest, code, message)
}

// NewUnauthorizedError creates a 401 Unauthorized error
func NewUnauthorizedError(code string, message string) *AppError {
	return NewError(http.StatusUnauthorized, code, message)
}

// NewForbiddenError creates a 403 Forbidden error
func NewForbiddenError(code string, message string) *AppError {
	return NewError(http.StatusForbidden, code, message)
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(code string, message string) *AppError {
	return NewError(http.StatusNotFound, code, message)
}

// NewTooManyRequestsError creates a new too many requests error
func NewTooManyRequestsError(code string, message string) *AppError {
	return NewError(http.StatusTooManyRequests, code, message)
}

// NewInternalServerError creates a 500 Internal Server Error
func NewInternalServerError(code string, message string) *AppError {
	return NewError(http.StatusInternalServerError, code, message)
}

// Is is a shorthand for the standard library errors.Is
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As is a shorthand for the standard library errors.As
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
