// Package errors provides a structured error system for the image loader with error codes, categories, and context.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for loader operations.
type ErrorCode string

const (
	// Fetch errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"
	ErrCodeTransport   ErrorCode = "TRANSPORT"
	ErrCodeCircuitOpen ErrorCode = "CIRCUIT_OPEN"

	// Payload errors
	ErrCodeDecode ErrorCode = "DECODE"

	// Storage errors
	ErrCodeIO       ErrorCode = "IO"
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"
	ErrCodeInvalidKey    ErrorCode = "INVALID_KEY"

	// State errors
	ErrCodeComponentStopped ErrorCode = "COMPONENT_STOPPED"

	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryFetch         ErrorCategory = "fetch"
	CategoryPayload       ErrorCategory = "payload"
	CategoryStorage       ErrorCategory = "storage"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryState         ErrorCategory = "state"
	CategoryInternal      ErrorCategory = "internal"
)

// LoaderError represents a structured error with context and metadata.
type LoaderError struct {
	Code     ErrorCode     `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`

	// Retryable is informational only; the loader never retries on its own.
	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *LoaderError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.Component != "" {
		if e.Operation != "" {
			return fmt.Sprintf("[%s:%s] %s: %s", e.Component, e.Operation, e.Code, msg)
		}
		return fmt.Sprintf("[%s] %s: %s", e.Component, e.Code, msg)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *LoaderError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error (for errors.Is compatibility).
func (e *LoaderError) Is(target error) bool {
	if t, ok := target.(*LoaderError); ok {
		return e.Code == t.Code
	}
	return false
}

// String returns a detailed string representation for logging.
func (e *LoaderError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, e.Context[k]))
		}
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("LoaderError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *LoaderError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new loader error with default values.
func NewError(code ErrorCode, message string) *LoaderError {
	return &LoaderError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeTimeout, ErrCodeTransport, ErrCodeCircuitOpen:
		return CategoryFetch
	case ErrCodeDecode:
		return CategoryPayload
	case ErrCodeIO, ErrCodeNotFound:
		return CategoryStorage
	case ErrCodeInvalidConfig, ErrCodeConfigLoad, ErrCodeInvalidKey:
		return CategoryConfiguration
	case ErrCodeComponentStopped:
		return CategoryState
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault reports whether a new request for the same key may succeed.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeTimeout, ErrCodeTransport, ErrCodeCircuitOpen, ErrCodeIO:
		return true
	}
	return false
}

// WithContext adds contextual information to an error
func (e *LoaderError) WithContext(key, value string) *LoaderError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *LoaderError) WithComponent(component string) *LoaderError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *LoaderError) WithOperation(operation string) *LoaderError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *LoaderError) WithCause(cause error) *LoaderError {
	e.Cause = cause
	return e
}

// Timeout builds a TIMEOUT error for a fetch that exceeded its deadline.
func Timeout(url string, cause error) *LoaderError {
	return NewError(ErrCodeTimeout, "fetch timed out").
		WithContext("url", url).
		WithCause(cause)
}

// Transport builds a TRANSPORT error for a failed network fetch.
func Transport(url string, cause error) *LoaderError {
	return NewError(ErrCodeTransport, "fetch failed").
		WithContext("url", url).
		WithCause(cause)
}

// Decode builds a DECODE error for bytes that are not a decodable image.
func Decode(cause error) *LoaderError {
	return NewError(ErrCodeDecode, "cannot decode image").WithCause(cause)
}

// IO builds an IO error for a disk read or write failure.
func IO(path string, cause error) *LoaderError {
	return NewError(ErrCodeIO, "disk i/o failed").
		WithContext("path", path).
		WithCause(cause)
}

// NotFound builds a NOT_FOUND error. It marks a cache miss, not a fault.
func NotFound(key string) *LoaderError {
	return NewError(ErrCodeNotFound, "not cached").WithContext("key", key)
}

// HasCode reports whether any error in err's chain is a LoaderError with code.
func HasCode(err error, code ErrorCode) bool {
	var le *LoaderError
	for err != nil {
		if !stderrors.As(err, &le) {
			return false
		}
		if le.Code == code {
			return true
		}
		err = le.Cause
	}
	return false
}

// IsTimeout reports whether err is a TIMEOUT error.
func IsTimeout(err error) bool { return HasCode(err, ErrCodeTimeout) }

// IsTransport reports whether err is a TRANSPORT error.
func IsTransport(err error) bool { return HasCode(err, ErrCodeTransport) }

// IsDecode reports whether err is a DECODE error.
func IsDecode(err error) bool { return HasCode(err, ErrCodeDecode) }

// IsIO reports whether err is an IO error.
func IsIO(err error) bool { return HasCode(err, ErrCodeIO) }

// IsNotFound reports whether err is a NOT_FOUND miss.
func IsNotFound(err error) bool { return HasCode(err, ErrCodeNotFound) }

// CodeOf returns the code of the outermost LoaderError in err's chain.
func CodeOf(err error) ErrorCode {
	var le *LoaderError
	if stderrors.As(err, &le) {
		return le.Code
	}
	if err == nil {
		return ""
	}
	return ErrCodeInternalError
}
