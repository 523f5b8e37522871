package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation     ErrorType = "validation"
	ErrorTypeAuthorization  ErrorType = "authorization"
	ErrorTypeAuthentication ErrorType = "authentication"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeConflict       ErrorType = "conflict"
	ErrorTypeInternal       ErrorType = "internal"
	ErrorTypeExternal       ErrorType = "external"
	ErrorTypeConfiguration  ErrorType = "configuration"
)

// ScribeError represents a structured error in the HealthScribe system
type ScribeError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *ScribeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *ScribeError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type onto a response status code
func (e *ScribeError) HTTPStatus() int {
	switch e.Type {
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a new validation error
func NewValidationError(code, message string, details map[string]interface{}) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeValidation,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// NewAuthorizationError creates a new authorization error
func NewAuthorizationError(code, message string) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeAuthorization,
		Code:    code,
		Message: message,
	}
}

// NewAuthenticationError creates a new authentication error
func NewAuthenticationError(code, message string) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeAuthentication,
		Code:    code,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(code, message string) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeNotFound,
		Code:    code,
		Message: message,
	}
}

// NewConflictError creates a new conflict error
func NewConflictError(code, message string, cause error) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(code, message string, cause error) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeInternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewExternalError wraps a failure of a remote dependency
func NewExternalError(code, message string, cause error) *ScribeError {
	return &ScribeError{
		Type:    ErrorTypeExternal,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(message string, missing []string) *ScribeError {
	details := map[string]interface{}{}
	if len(missing) > 0 {
		details["missing"] = missing
	}
	return &ScribeError{
		Type:    ErrorTypeConfiguration,
		Code:    ErrCodeConfigurationInvalid,
		Message: message,
		Details: details,
	}
}

// ErrorTypeOf returns the type of a ScribeError anywhere in the chain, or
// ErrorTypeInternal for foreign errors.
func ErrorTypeOf(err error) ErrorType {
	var se *ScribeError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return err != nil && ErrorTypeOf(err) == ErrorTypeNotFound
}

// IsConflict reports whether err is a conflict error
func IsConflict(err error) bool {
	return err != nil && ErrorTypeOf(err) == ErrorTypeConflict
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool {
	return err != nil && ErrorTypeOf(err) == ErrorTypeValidation
}

// Common error codes
const (
	ErrCodeInvalidInput         = "INVALID_INPUT"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeConflict             = "CONFLICT"
	ErrCodeVersionMismatch      = "VERSION_MISMATCH"
	ErrCodeInternalError        = "INTERNAL_ERROR"
	ErrCodeExternalError        = "EXTERNAL_ERROR"
	ErrCodeValidationFailed     = "VALIDATION_FAILED"
	ErrCodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	ErrCodeConfigurationInvalid = "CONFIGURATION_INVALID"
	ErrCodeLastTemplate         = "LAST_TEMPLATE"
	ErrCodeUploadFailed         = "UPLOAD_FAILED"
	ErrCodeTranscriptionFailed  = "TRANSCRIPTION_FAILED"
	ErrCodeRateLimited          = "RATE_LIMITED"
)
