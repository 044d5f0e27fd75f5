package core

import (
	"errors"
	"fmt"
	"net/http"
)

// -----------------------------------------------------------------------------
// Error Codes
// -----------------------------------------------------------------------------

type ErrorCode string

const (
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeForbidden           ErrorCode = "FORBIDDEN"
	CodeBadRequest          ErrorCode = "BAD_REQUEST"
	CodeValidationError     ErrorCode = "VALIDATION_ERROR"
	CodeConfigNotFound      ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid       ErrorCode = "CONFIG_INVALID"
	CodeEnvironmentNotFound ErrorCode = "ENVIRONMENT_NOT_FOUND"
	CodeEngineInitFailed    ErrorCode = "ENGINE_INIT_FAILED"
	CodeManifestNotFound    ErrorCode = "MANIFEST_NOT_FOUND"
	CodeManifestInvalid     ErrorCode = "MANIFEST_INVALID"
	CodeMetricNotFound      ErrorCode = "METRIC_NOT_FOUND"
	CodeDimensionNotFound   ErrorCode = "DIMENSION_NOT_FOUND"
	CodeQueryNotFound       ErrorCode = "QUERY_NOT_FOUND"
	CodeQueryExpired        ErrorCode = "QUERY_EXPIRED"
	CodeQueryExecFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	CodeQueryCompileFailed  ErrorCode = "QUERY_COMPILE_FAILED"
	CodeInternalError       ErrorCode = "INTERNAL_ERROR"
)

func (c ErrorCode) String() string {
	return string(c)
}

// -----------------------------------------------------------------------------
// Error
// -----------------------------------------------------------------------------

// Error is the tagged error value every subsystem surfaces to callers. Status
// carries the HTTP-style status code used by the transport layer.
type Error struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with an explicit status code.
func NewError(code ErrorCode, status int, message string) *Error {
	return &Error{Code: code, Message: message, Status: status}
}

// WrapError attaches an underlying cause.
func WrapError(code ErrorCode, status int, message string, err error) *Error {
	return &Error{Code: code, Message: message, Status: status, Err: err}
}

// WithDetails returns the error with structured details attached.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts an *Error from err, or wraps err as INTERNAL_ERROR.
func AsError(err error) *Error {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr
	}
	return WrapError(CodeInternalError, http.StatusInternalServerError, err.Error(), err)
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	var coreErr *Error
	if errors.As(err, &coreErr) {
		return coreErr.Code == code
	}
	return false
}
