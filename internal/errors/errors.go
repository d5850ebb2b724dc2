// Package errors defines the structured error taxonomy surfaced by every
// component (A-G) instead of ad hoc error strings.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode identifies one of the eight error kinds the spec names, or
// NotFound for a missing room or record.
type ErrorCode string

const (
	ErrCodeAuthFailure      ErrorCode = "AUTH_FAILURE"
	ErrCodeNotAuthorized    ErrorCode = "NOT_AUTHORIZED"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeInvalidArgument  ErrorCode = "INVALID_ARGUMENT"
	ErrCodeConflict         ErrorCode = "CONFLICT"
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeTransient        ErrorCode = "TRANSIENT"
	ErrCodeFatal            ErrorCode = "FATAL"
)

// AppError is a structured error that can be mapped to an HTTP status or
// an outbound gateway event without string matching.
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, cause: cause}
}

// Common constructors, one per spec error kind.

func AuthFailure(message string) *AppError {
	return New(ErrCodeAuthFailure, message)
}

func InvalidToken() *AppError {
	return New(ErrCodeAuthFailure, "invalid token")
}

func ExpiredToken() *AppError {
	return New(ErrCodeAuthFailure, "expired token")
}

func UnknownSession() *AppError {
	return New(ErrCodeAuthFailure, "unknown session")
}

func NotAuthorized(message string) *AppError {
	return New(ErrCodeNotAuthorized, message)
}

func RateLimited() *AppError {
	return New(ErrCodeRateLimited, "rate limit exceeded")
}

func InvalidArgument(message string) *AppError {
	return New(ErrCodeInvalidArgument, message)
}

func PayloadTooLarge() *AppError {
	return New(ErrCodeInvalidArgument, "payload too large")
}

func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func StoreUnavailable(cause error) *AppError {
	return Wrap(ErrCodeStoreUnavailable, "shared state store unavailable", cause)
}

func Transient(message string, cause error) *AppError {
	return Wrap(ErrCodeTransient, message, cause)
}

func Fatal(message string, cause error) *AppError {
	return Wrap(ErrCodeFatal, message, cause)
}

// IsAppError reports whether err is (or wraps) an *AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts err to an *AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error's code, or ErrCodeFatal if err is not an
// *AppError.
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeFatal
}
