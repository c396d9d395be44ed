package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Invocation error codes. Providers must map their failures onto these so
// the retry policy can classify them.
const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 参数/配置错误，不可重试
	ErrTimeout        ErrorCode = "TIMEOUT"         // 上游超时，可重试
	ErrRateLimit      ErrorCode = "RATE_LIMIT"      // 上游或本地限流，可重试
	ErrProviderError  ErrorCode = "PROVIDER_ERROR"  // 上游 5xx/网络错误
	ErrParseFailure   ErrorCode = "PARSE_FAILURE"   // 解析分类/评估输出失败
)

// Workflow error codes. These are produced by the engine itself, never by a
// provider, and are never retryable.
const (
	ErrCancelled        ErrorCode = "CANCELLED"         // 用户主动取消
	ErrDeadlineExceeded ErrorCode = "DEADLINE_EXCEEDED" // 步骤或工作流预算超时
	ErrQuorumNotReached ErrorCode = "QUORUM_NOT_REACHED"
	ErrInvalidTransition ErrorCode = "INVALID_TRANSITION"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
// Returns "" when the chain contains no structured Error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}
