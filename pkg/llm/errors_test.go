package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_ErrorIncludesContext(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Provider:   ProviderGemini,
		Model:      "gemini-2.5-flash-lite",
		Cause:      errors.New("upstream unavailable"),
	}

	msg := err.Error()
	assert.Contains(t, msg, "HTTP 503")
	assert.Contains(t, msg, "provider=gemini")
	assert.Contains(t, msg, "model=gemini-2.5-flash-lite")
	assert.Contains(t, msg, "server error: upstream unavailable")
}

func TestError_MinimalContext(t *testing.T) {
	err := NewError(ErrorTypeAuth, "authentication failed", false, nil)
	assert.Equal(t, "auth authentication failed", err.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewError(ErrorTypeUnknown, "wrapped", false, cause)
	assert.ErrorIs(t, err, cause)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		errStr     string
		wantType   ErrorType
		retryable  bool
		statusCode int
	}{
		{"error, status code: 401, message: Incorrect API key", ErrorTypeAuth, false, 401},
		{"API key not valid. Please pass a valid API key.", ErrorTypeAuth, false, 0},
		{"The model `gpt-9` does not exist", ErrorTypeModel, false, 0},
		{"status code: 404, not found", ErrorTypeEndpoint, false, 404},
		{"dial tcp: connection refused", ErrorTypeEndpoint, true, 0},
		{"context deadline exceeded", ErrorTypeEndpoint, true, 0},
		{"status code: 429, rate limit reached", ErrorTypeUnknown, true, 429},
		{"Error 429, RESOURCE_EXHAUSTED", ErrorTypeUnknown, true, 429},
		{"anthropic api error type: overloaded_error", ErrorTypeEndpoint, true, 0},
		{"status code: 503, service unavailable", ErrorTypeEndpoint, true, 503},
		{"something odd", ErrorTypeUnknown, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.errStr, func(t *testing.T) {
			got := ClassifyError(errors.New(tt.errStr))
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.statusCode, got.StatusCode)
		})
	}
}

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}

func TestClassifyError_ContextCanceledNotRetryable(t *testing.T) {
	got := ClassifyError(fmt.Errorf("stream: %w", errors.New("context canceled")))
	assert.False(t, got.Retryable)
	assert.Equal(t, "request canceled", got.Message)
}

func TestClassifyError_PreservesExistingError(t *testing.T) {
	original := NewError(ErrorTypeModel, "model not found", false, nil)
	got := ClassifyError(fmt.Errorf("outer: %w", original))
	assert.Same(t, original, got)
}

func TestClassifyProviderError_TagsProviderAndModel(t *testing.T) {
	err := classifyProviderError(errors.New("status code: 500"), ProviderOpenAI, "gpt-4o-mini")

	var llmErr *Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, ProviderOpenAI, llmErr.Provider)
	assert.Equal(t, "gpt-4o-mini", llmErr.Model)
	assert.True(t, IsRetryable(err))
}

func TestGetErrorType(t *testing.T) {
	assert.Equal(t, ErrorTypeAuth, GetErrorType(NewError(ErrorTypeAuth, "x", false, nil)))
	assert.Equal(t, ErrorTypeUnknown, GetErrorType(errors.New("plain")))
	assert.False(t, IsRetryable(errors.New("plain")))
}
