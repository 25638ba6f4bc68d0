// Package errors defines the error types surfaced to clients.
// HTTP handlers answer with APIError; assistant streams end with a StreamError event.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// APIError is a JSON error returned by the HTTP API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *APIError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeAuthentication     = "authentication_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeNotFound           = "not_found_error"
	TypeRateLimit          = "rate_limit_error"
	TypeServiceUnavailable = "service_unavailable_error"
	TypeInternalError      = "internal_error"
)

// NewUnauthorizedError creates an ownership/authentication error (401).
func NewUnauthorizedError(message string) *APIError {
	return &APIError{StatusCode: http.StatusUnauthorized, Message: message, Type: TypeAuthentication, Code: string(CodeUnauthorized)}
}

// NewInvalidRequestError creates an invalid request error (400).
func NewInvalidRequestError(message string) *APIError {
	return &APIError{StatusCode: http.StatusBadRequest, Message: message, Type: TypeInvalidRequest}
}

// NewNotFoundError creates a not found error (404).
func NewNotFoundError(message string) *APIError {
	return &APIError{StatusCode: http.StatusNotFound, Message: message, Type: TypeNotFound}
}

// NewRateLimitError creates a rate limit error (429).
func NewRateLimitError(message string) *APIError {
	return &APIError{StatusCode: http.StatusTooManyRequests, Message: message, Type: TypeRateLimit}
}

// NewServiceUnavailableError creates a service unavailable error (503).
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{StatusCode: http.StatusServiceUnavailable, Message: message, Type: TypeServiceUnavailable}
}

// NewInternalError creates an internal error (500).
func NewInternalError(message string) *APIError {
	return &APIError{StatusCode: http.StatusInternalServerError, Message: message, Type: TypeInternalError}
}

// Code identifies a terminal stream error.
type Code string

const (
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeLLMTimeout   Code = "LLM_TIMEOUT"
	CodeAborted      Code = "ABORTED"
	CodeLLMFailed    Code = "LLM_FAILED"
)

// StreamError is the payload of the terminal `error` stream event.
type StreamError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewUnauthorizedStreamError creates the error sent when the caller does not own the job.
func NewUnauthorizedStreamError(reason string) *StreamError {
	return &StreamError{Code: CodeUnauthorized, Message: "Not authorized to access this search", Reason: reason}
}

// Classify maps a generation failure to a stream error.
// Timeouts win over aborts so that a deadline surfaced as a cancellation is still reported
// as a timeout.
func Classify(err error) *StreamError {
	if err == nil {
		return nil
	}
	var se *StreamError
	if stderrors.As(err, &se) {
		return se
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	switch {
	case stderrors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out"):
		return &StreamError{Code: CodeLLMTimeout, Message: "Assistant timed out", Reason: msg}
	case stderrors.Is(err, context.Canceled) || strings.Contains(lower, "abort"):
		return &StreamError{Code: CodeAborted, Message: "Assistant request was aborted", Reason: msg}
	default:
		return &StreamError{Code: CodeLLMFailed, Message: "Assistant failed to respond", Reason: msg}
	}
}
