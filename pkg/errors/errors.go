package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures across the archive pipeline
type ErrorType string

const (
	// ErrorTypeConnection means a backend or remote host was unreachable.
	// Callers retry these with backoff.
	ErrorTypeConnection ErrorType = "connection"
	// ErrorTypeNotFound means no such record or remote resource exists.
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeConflict means a concurrent write collided. The caller must
	// re-issue the merge-patch, never blindly overwrite.
	ErrorTypeConflict ErrorType = "conflict"
	// ErrorTypeDownloadExhausted means every candidate URL for an asset failed.
	ErrorTypeDownloadExhausted ErrorType = "download_exhausted"
	// ErrorTypeAuthExpired means the bridged session cookies are stale or the
	// session was logged out. This halts the entire batch.
	ErrorTypeAuthExpired ErrorType = "auth_expired"
	// ErrorTypeForbidden means the server rejected the request even with valid
	// auth. Permanent for that URL, not for the batch.
	ErrorTypeForbidden   ErrorType = "forbidden"
	ErrorTypeRateLimit   ErrorType = "rate_limit"
	ErrorTypeServerError ErrorType = "server_error"
	ErrorTypeParsing     ErrorType = "parsing"
	ErrorTypeUnknown     ErrorType = "unknown"
)

// Error carries the failure classification alongside the message and, for
// HTTP-originated errors, the status code.
type Error struct {
	Type    ErrorType
	Message string
	Code    int
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New creates a typed error.
func New(t ErrorType, message string) *Error {
	return &Error{Type: t, Message: message}
}

// Newf creates a typed error with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewHTTP creates a typed error carrying an HTTP status code.
func NewHTTP(t ErrorType, code int, message string) *Error {
	return &Error{Type: t, Message: message, Code: code}
}

// TypeOf returns the classification of err, or ErrorTypeUnknown when err is
// not a typed error.
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ErrorTypeUnknown
}

// Is reports whether err is a typed error of the given classification.
func Is(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsRetryable checks if an error type should be retried
func IsRetryable(t ErrorType) bool {
	switch t {
	case ErrorTypeConnection, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	default:
		return false
	}
}

// IsRetryableError reports whether err should be retried against the same
// target. Untyped errors are treated as transient.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return IsRetryable(e.Type)
	}
	return true
}

// ClassifyStatusCode maps an HTTP status code onto the taxonomy. Code 0 is
// treated as a connection failure (no response at all).
func ClassifyStatusCode(code int) ErrorType {
	switch {
	case code == 0:
		return ErrorTypeConnection
	case code == 401:
		return ErrorTypeAuthExpired
	case code == 403:
		return ErrorTypeForbidden
	case code == 404 || code == 410:
		return ErrorTypeNotFound
	case code == 409 || code == 412:
		return ErrorTypeConflict
	case code == 429:
		return ErrorTypeRateLimit
	case code >= 500:
		return ErrorTypeServerError
	default:
		return ErrorTypeUnknown
	}
}

// IsRetryableStatusCode checks if an HTTP status code indicates a retryable error
func IsRetryableStatusCode(code int) bool {
	return IsRetryable(ClassifyStatusCode(code))
}
