package tools

import (
	"encoding/json"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
)

// ErrorResponse represents a structured error in tool results.
// It is returned as a tool result so the calling model sees the details
// and can correct its arguments.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can act on (bad arguments,
// unknown database). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// ErrorCode maps a service error to a stable code for tool results.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return "database_not_found"
	case errors.Is(err, apperrors.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, apperrors.ErrNoValidQueries):
		return "no_valid_queries"
	case errors.Is(err, apperrors.ErrNoTables):
		return "empty_database"
	case errors.Is(err, apperrors.ErrCapacityReached):
		return "capacity_reached"
	case errors.Is(err, llm.ErrCircuitOpen):
		return "llm_unavailable"
	default:
		return "analysis_failed"
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
