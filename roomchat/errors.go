package roomchat

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// Binding errors
	ErrorConnection
	ErrorDisconnected
	ErrorTimeout

	// Payload errors
	ErrorSerialization

	// Client-side errors
	ErrorInvalidConfig
	ErrorClosed
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection_error"
	case ErrorDisconnected:
		return "disconnected"
	case ErrorTimeout:
		return "timeout"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// ErrManagerClosed is returned by Manager methods called after Close.
var ErrManagerClosed = NewError(ErrorClosed, "manager closed")

// SessionError is a structured error with code and context.
type SessionError struct {
	Code    ErrorCode
	Room    RoomID
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	msg := e.Message
	if e.Room != "" {
		msg = fmt.Sprintf("%s (room %s)", msg, e.Room)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, msg, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *SessionError) Unwrap() error {
	return e.Wrapped
}

// Is matches any SessionError with the same code.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new SessionError with the given code and message.
func NewError(code ErrorCode, message string) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with a SessionError.
func WrapError(code ErrorCode, message string, err error) *SessionError {
	return &SessionError{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

func roomError(code ErrorCode, room RoomID, message string, err error) *SessionError {
	return &SessionError{
		Code:    code,
		Room:    room,
		Message: message,
		Wrapped: err,
	}
}

// CodeOf returns the code of the first SessionError in err's chain.
func CodeOf(err error) ErrorCode {
	var se *SessionError
	if !errors.As(err, &se) {
		return ErrorUnknown
	}
	return se.Code
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrorConnection, ErrorDisconnected, ErrorTimeout:
		return true
	default:
		return false
	}
}
