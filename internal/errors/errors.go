// Package errors provides error codes shared across the core and bridged to
// the mobile and desktop hosts.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a unique error code that can be bridged to the hosts.
type ErrorCode string

const (
	// General errors
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
	ErrInvalid    ErrorCode = "INVALID_INPUT"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrConfig     ErrorCode = "CONFIG_INVALID"

	// Storage errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"
	ErrStorage   ErrorCode = "STORAGE_ERROR"
	ErrCorrupted ErrorCode = "QUEUE_CORRUPTED"

	// Sync errors
	ErrSyncFailed     ErrorCode = "SYNC_FAILED"
	ErrSyncTransport  ErrorCode = "SYNC_TRANSPORT"
	ErrSyncTimeout    ErrorCode = "SYNC_TIMEOUT"
	ErrSyncRejected   ErrorCode = "SYNC_REJECTED"
	ErrSyncAuthFailed ErrorCode = "SYNC_AUTH_FAILED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Crypto errors
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int // HTTP status for SYNC_REJECTED / SYNC_AUTH_FAILED
	Err        error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Rejected builds the error returned when the backend answers with a
// non-success status.
func Rejected(status int, message string) *AppError {
	code := ErrSyncRejected
	if status == 401 || status == 403 {
		code = ErrSyncAuthFailed
	}
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: status,
	}
}

// Code returns the code of the first AppError in err's chain, or "".
func Code(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is checks if an error, or anything it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	return err != nil && Code(err) == code
}

// IsRetryable reports whether err means the request never reached a
// decision on the server, so retrying later can succeed.
func IsRetryable(err error) bool {
	switch Code(err) {
	case ErrSyncTransport, ErrSyncTimeout:
		return true
	default:
		return false
	}
}

// IsRejection reports whether the server answered and refused the request.
func IsRejection(err error) bool {
	switch Code(err) {
	case ErrSyncRejected, ErrSyncAuthFailed:
		return true
	default:
		return false
	}
}

// Status returns the HTTP status carried by err, or 0.
func Status(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
