package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents a specific error condition
type ErrorCode string

const (
	// Registry errors
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodeDuplicateSession ErrorCode = "DUPLICATE_SESSION"

	// Checkpoint errors
	ErrCodeCheckpointRejected    ErrorCode = "CHECKPOINT_REJECTED"
	ErrCodeCheckpointWriteFailed ErrorCode = "CHECKPOINT_WRITE_FAILED"
	ErrCodeCheckpointTimeout     ErrorCode = "CHECKPOINT_TIMEOUT"

	// Publisher errors
	ErrCodeStaleChannel ErrorCode = "STALE_CHANNEL"

	// Process errors
	ErrCodeSingletonConflict ErrorCode = "SINGLETON_CONFLICT"
	ErrCodeDaemonUnreachable ErrorCode = "DAEMON_UNREACHABLE"

	// Configuration errors
	ErrCodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// General errors
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
)

// CoordError represents a structured error with context
type CoordError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// Error implements the error interface
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap implements the errors.Unwrap interface
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a detail to the error
func (e *CoordError) WithDetail(key string, value interface{}) *CoordError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ToJSON converts the error to JSON
func (e *CoordError) ToJSON() string {
	data, _ := json.MarshalIndent(e, "", "  ")
	return string(data)
}

// New creates a new CoordError
func New(code ErrorCode, message string) *CoordError {
	return &CoordError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with a CoordError
func Wrap(err error, code ErrorCode, message string) *CoordError {
	return &CoordError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Is checks if an error is a specific CoordError code
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	coordErr, ok := err.(*CoordError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return Is(unwrapper.Unwrap(), code)
		}
		return false
	}

	return coordErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	coordErr, ok := err.(*CoordError)
	if !ok {
		// Try to unwrap
		if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
			return GetCode(unwrapper.Unwrap())
		}
		return ""
	}

	return coordErr.Code
}
