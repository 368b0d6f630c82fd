package llm

import (
	"context"
	"sync"
)

// MockGenerator is a configurable mock for testing generation.
// Set the function fields to control behavior in tests.
type MockGenerator struct {
	// GenerateFunc is called when Generate is invoked.
	// If nil, returns an empty result and nil error.
	GenerateFunc func(ctx context.Context, req GenerateRequest) (*GenerateResult, error)

	// ModelName is returned by Model. Defaults to "mock-model".
	ModelName string

	mu       sync.Mutex
	requests []GenerateRequest
}

// NewMockGenerator creates a mock that answers every call with content.
func NewMockGenerator(content ...string) *MockGenerator {
	m := &MockGenerator{ModelName: "mock-model"}
	if len(content) > 0 {
		var (
			mu  sync.Mutex
			idx int
		)
		m.GenerateFunc = func(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
			// Replays content in order, repeating the last entry.
			mu.Lock()
			c := content[min(idx, len(content)-1)]
			idx++
			mu.Unlock()
			return &GenerateResult{Content: c}, nil
		}
	}
	return m
}

// Generate implements Generator.
func (m *MockGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	fn := m.GenerateFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return &GenerateResult{}, nil
}

// Model implements Generator.
func (m *MockGenerator) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

// Calls returns the number of Generate calls.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of every request received.
func (m *MockGenerator) Requests() []GenerateRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerateRequest(nil), m.requests...)
}

var _ Generator = (*MockGenerator)(nil)

// MockChatTurn scripts one StreamChat call.
type MockChatTurn struct {
	Chunks    []string
	ToolCalls []ToolCall
	Err       error
}

// MockChatModel replays scripted turns in order. Calls past the end of
// Turns repeat the last turn.
type MockChatModel struct {
	Turns []MockChatTurn

	mu       sync.Mutex
	requests []ChatRequest
}

// StreamChat implements ChatModel.
func (m *MockChatModel) StreamChat(ctx context.Context, req ChatRequest, onText func(string) error) (*ChatResponse, error) {
	m.mu.Lock()
	idx := len(m.requests)
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if len(m.Turns) == 0 {
		return &ChatResponse{}, nil
	}
	turn := m.Turns[min(idx, len(m.Turns)-1)]

	var content string
	for _, chunk := range turn.Chunks {
		content += chunk
		if onText != nil {
			if err := onText(chunk); err != nil {
				return nil, err
			}
		}
	}
	if turn.Err != nil {
		return nil, turn.Err
	}
	return &ChatResponse{Content: content, ToolCalls: turn.ToolCalls}, nil
}

// Requests returns a copy of every request received.
func (m *MockChatModel) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

var _ ChatModel = (*MockChatModel)(nil)
