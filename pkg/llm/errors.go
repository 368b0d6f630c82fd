package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType indicates which part of the provider configuration failed.
type ErrorType string

const (
	ErrorTypeNone     ErrorType = ""
	ErrorTypeEndpoint ErrorType = "endpoint"
	ErrorTypeAuth     ErrorType = "auth"
	ErrorTypeModel    ErrorType = "model"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// Error represents a structured LLM error with classification.
type Error struct {
	Type       ErrorType // Classification of the error
	Message    string    // Human-readable message
	Retryable  bool      // Whether the operation can be retried
	Cause      error     // Underlying error
	StatusCode int       // HTTP status code if applicable
	Model      string    // Model name if known
	Provider   string    // Provider name if known
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, string(e.Type))

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Provider != "" {
		parts = append(parts, fmt.Sprintf("provider=%s", e.Provider))
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}

	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements the retry.RetryableError interface.
// This allows the retry package to check retryability without importing llm.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// NewError creates a new structured LLM error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// ErrEmptyResponse is returned when a provider answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// classifyProviderError classifies err and tags it with provider and model.
func classifyProviderError(err error, provider, model string) error {
	llmErr := ClassifyError(err)
	if llmErr == nil {
		return nil
	}
	if llmErr.Provider == "" {
		llmErr.Provider = provider
	}
	if llmErr.Model == "" {
		llmErr.Model = model
	}
	return llmErr
}

// ClassifyError categorizes an error and returns a structured Error.
// This consolidates error classification logic for consistent handling
// across the OpenAI, Anthropic and Gemini clients.
func ClassifyError(err error) *Error {
	if err == nil {
		return nil
	}

	// Check if already an *Error
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr
	}

	errStr := err.Error()
	lower := strings.ToLower(errStr)

	// Extract HTTP status code from error string
	statusCode := 0
	for _, code := range []int{400, 401, 403, 404, 429, 500, 502, 503, 504, 529} {
		if strings.Contains(errStr, fmt.Sprintf("%d", code)) {
			statusCode = code
			break
		}
	}

	newErr := func(t ErrorType, msg string, retryable bool) *Error {
		e := NewError(t, msg, retryable, err)
		e.StatusCode = statusCode
		return e
	}

	switch {
	// Authentication errors (not retryable)
	case strings.Contains(errStr, "401") || strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") || strings.Contains(lower, "api key not valid") ||
		strings.Contains(lower, "authentication_error"):
		return newErr(ErrorTypeAuth, "authentication failed", false)

	// Model not found (not retryable without config change)
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") ||
		strings.Contains(lower, "does not exist")):
		return newErr(ErrorTypeModel, "model not found", false)

	// Endpoint not found (not retryable without config change)
	case strings.Contains(errStr, "404"):
		return newErr(ErrorTypeEndpoint, "endpoint not found", false)

	// Connection errors (may be retryable)
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		return newErr(ErrorTypeEndpoint, "connection failed", true)

	// Caller gave up; retrying cannot help
	case strings.Contains(lower, "context canceled"):
		return newErr(ErrorTypeEndpoint, "request canceled", false)

	// Timeout and deadline exceeded (retryable)
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return newErr(ErrorTypeEndpoint, "request timeout", true)

	// Rate limiting (retryable after backoff)
	case strings.Contains(errStr, "429") || strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "resource_exhausted") || strings.Contains(lower, "resource exhausted"):
		return newErr(ErrorTypeUnknown, "rate limited", true)

	// Provider overloaded (Anthropic 529)
	case strings.Contains(lower, "overloaded"):
		return newErr(ErrorTypeEndpoint, "provider overloaded", true)

	// 5xx server errors (retryable)
	case strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504"):
		return newErr(ErrorTypeEndpoint, "server error", true)
	}

	return newErr(ErrorTypeUnknown, "llm error", false)
}

// IsRetryable returns true if the error is retryable.
func IsRetryable(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
