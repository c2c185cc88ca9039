package streams

import (
	"errors"
	"fmt"
)

// StreamError represents a domain-specific error
type StreamError struct {
	Code    string
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Is matches another *StreamError by code, so errors.Is(err, ErrEndOfStream) works.
func (e *StreamError) Is(target error) bool {
	t, ok := target.(*StreamError)
	return ok && t.Code == e.Code
}

// Error codes
const (
	ErrCodeOpenFailure         = "OPEN_FAILURE"
	ErrCodeReadFailure         = "READ_FAILURE"
	ErrCodeEndOfStream         = "END_OF_STREAM"
	ErrCodeEncoderSpawnFailure = "ENCODER_SPAWN_FAILURE"
	ErrCodeEncoderExited       = "ENCODER_EXITED"
	ErrCodeCleanupFailure      = "CLEANUP_FAILURE"
	ErrCodeConfigError         = "CONFIG_ERROR"
	ErrCodeNotStreaming        = "NOT_STREAMING"
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrOpenFailure         = &StreamError{Code: ErrCodeOpenFailure}
	ErrReadFailure         = &StreamError{Code: ErrCodeReadFailure}
	ErrEndOfStream         = &StreamError{Code: ErrCodeEndOfStream}
	ErrEncoderSpawnFailure = &StreamError{Code: ErrCodeEncoderSpawnFailure}
	ErrEncoderExited       = &StreamError{Code: ErrCodeEncoderExited}
	ErrCleanupFailure      = &StreamError{Code: ErrCodeCleanupFailure}
	ErrConfig              = &StreamError{Code: ErrCodeConfigError}
	ErrNotStreaming        = &StreamError{Code: ErrCodeNotStreaming}
)

// NewStreamError creates a new stream error
func NewStreamError(code, message string, cause error) *StreamError {
	return &StreamError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first *StreamError in err's chain, or "".
func CodeOf(err error) string {
	var se *StreamError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}
