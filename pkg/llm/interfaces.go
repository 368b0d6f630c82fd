// Package llm wraps the text-generation providers used for SQL generation,
// answer synthesis and streamed chat.
package llm

import (
	"context"
)

// Provider names accepted by the factory.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// GenerateRequest is a single-turn completion request.
type GenerateRequest struct {
	Prompt       string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// GenerateResult is the text produced for a GenerateRequest.
type GenerateResult struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
}

// Generator produces one completion for one prompt.
// Use this interface for dependency injection to enable mocking in tests.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error)
	Model() string
}

// ChatRequest is one streamed model turn.
type ChatRequest struct {
	SystemPrompt string
	Messages     []Message
	// Tools are offered to the model; nil disables tool calling.
	Tools       []ToolDefinition
	Temperature float64
}

// ChatResponse is the accumulated outcome of a streamed turn.
type ChatResponse struct {
	Content   string
	ToolCalls []ToolCall
}

// ChatModel streams one model turn. onText receives text deltas as they
// arrive; returning an error from it aborts the stream.
type ChatModel interface {
	StreamChat(ctx context.Context, req ChatRequest, onText func(string) error) (*ChatResponse, error)
}

// ToolExecutor defines the interface for executing tools.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, name string, arguments string) (string, error)
	Definitions() []ToolDefinition
}

// Message represents a chat message.
type Message struct {
	Role       string      `json:"role"`
	Content    string      `json:"content"`
	Images     []ImagePart `json:"images,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	// Name is the tool name on tool-result messages.
	Name string `json:"name,omitempty"`
}

// ImagePart is an image attached to a user message. URL may be a data URL.
type ImagePart struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type,omitempty"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a tool call from the LLM.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc represents a function call within a tool call.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
