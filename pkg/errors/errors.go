// Package errors defines the structured errors services return to handlers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeMalformedEnvelope ErrorCode = "MALFORMED_ENVELOPE"
	ErrCodeRecipientMismatch ErrorCode = "RECIPIENT_MISMATCH"
	ErrCodeInvalidPublicKey  ErrorCode = "INVALID_PUBLIC_KEY"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"

	// Authorization errors
	ErrCodeForbidden      ErrorCode = "FORBIDDEN"
	ErrCodeNotParticipant ErrorCode = "NOT_PARTICIPANT"
	ErrCodeNotAdmin       ErrorCode = "NOT_ADMIN"

	// Not found errors
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Conflict errors
	ErrCodeConflict      ErrorCode = "CONFLICT"
	ErrCodeKeyExists     ErrorCode = "KEY_EXISTS"
	ErrCodeWindowExpired ErrorCode = "DELETE_WINDOW_EXPIRED"
	ErrCodeGroupFull     ErrorCode = "GROUP_FULL"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
)

// AppError represents a structured application error with code, message, and HTTP status
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Details    any       `json:"details,omitempty"`
	Err        error     `json:"-"`
}

// Error implements the error interface, returning a formatted error message
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewWithStatus creates a new AppError with a specific HTTP status code
func NewWithStatus(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// WrapWithStatus wraps an existing error with an AppError and specific status code
func WrapWithStatus(code ErrorCode, message string, statusCode int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Err:        err,
	}
}

// WithDetails adds additional details to an AppError for debugging
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// Validation errors

func ValidationError(message string) *AppError {
	return NewWithStatus(ErrCodeValidation, message, http.StatusBadRequest)
}

func MalformedEnvelopeError(err error) *AppError {
	return WrapWithStatus(ErrCodeMalformedEnvelope, "Envelope is malformed", http.StatusBadRequest, err)
}

func RecipientMismatchError(message string) *AppError {
	return NewWithStatus(ErrCodeRecipientMismatch, message, http.StatusBadRequest)
}

func InvalidPublicKeyError(err error) *AppError {
	return WrapWithStatus(ErrCodeInvalidPublicKey, "Public key is invalid", http.StatusBadRequest, err)
}

// Authorization errors

func ForbiddenError(message string) *AppError {
	return NewWithStatus(ErrCodeForbidden, message, http.StatusForbidden)
}

func NotParticipantError() *AppError {
	return NewWithStatus(ErrCodeNotParticipant, "Not a participant of this chat", http.StatusForbidden)
}

func NotAdminError() *AppError {
	return NewWithStatus(ErrCodeNotAdmin, "Only group admins can do this", http.StatusForbidden)
}

// Not found errors

func NotFoundError(resource string) *AppError {
	return NewWithStatus(ErrCodeNotFound, resource+" not found", http.StatusNotFound)
}

// Conflict errors

func ConflictError(message string) *AppError {
	return NewWithStatus(ErrCodeConflict, message, http.StatusConflict)
}

func KeyExistsError() *AppError {
	return NewWithStatus(ErrCodeKeyExists, "A different identity key is already published", http.StatusConflict)
}

func WindowExpiredError() *AppError {
	return NewWithStatus(ErrCodeWindowExpired, "Message can no longer be deleted for everyone", http.StatusConflict)
}

func GroupFullError(max int) *AppError {
	return NewWithStatus(ErrCodeGroupFull, fmt.Sprintf("Groups are limited to %d participants", max), http.StatusConflict)
}

// Internal errors

func InternalError(message string) *AppError {
	return NewWithStatus(ErrCodeInternal, message, http.StatusInternalServerError)
}

func DatabaseError(err error) *AppError {
	return WrapWithStatus(ErrCodeDatabase, "Database error", http.StatusInternalServerError, err)
}

// IsAppError checks if err is or wraps an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// GetAppError extracts AppError from an error, wrapping non-AppErrors as InternalError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return WrapWithStatus(ErrCodeInternal, "Internal server error", http.StatusInternalServerError, err)
}

// HasCode reports whether err is an AppError with the given code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
