package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

var (
	textToolCallRegex = regexp.MustCompile(`<tool_call>\s*(\{[\s\S]*?\})\s*</tool_call>`)
	toolCallBlock     = regexp.MustCompile(`<tool_call>[\s\S]*?</tool_call>`)
	thinkBlock        = regexp.MustCompile(`<think>[\s\S]*?</think>`)
	multiNewline      = regexp.MustCompile(`\n{3,}`)
)

// StreamChat performs one streamed chat completion. Text deltas go to
// onText as they arrive; tool calls are accumulated across chunks and
// returned once the stream ends.
func (c *OpenAIClient) StreamChat(ctx context.Context, req ChatRequest, onText func(string) error) (*ChatResponse, error) {
	messages := buildOpenAIMessages(req.Messages, req.SystemPrompt)
	tools := buildOpenAITools(req.Tools)

	start := time.Now()

	c.logger.Debug("Starting chat stream",
		zap.Int("message_count", len(messages)),
		zap.Int("tool_count", len(tools)))

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Tools:       tools,
		Temperature: float32(req.Temperature),
		Stream:      true,
	})
	if err != nil {
		c.logger.Error("Failed to create stream", zap.Error(err))
		return nil, classifyProviderError(err, ProviderOpenAI, c.model)
	}
	defer stream.Close()

	var contentBuilder strings.Builder
	toolCallsMap := make(map[int]*ToolCall)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			c.logger.Error("Stream receive error", zap.Error(err))
			return nil, classifyProviderError(err, ProviderOpenAI, c.model)
		}

		if len(response.Choices) == 0 {
			continue
		}

		delta := response.Choices[0].Delta

		if delta.Content != "" {
			contentBuilder.WriteString(delta.Content)
			if onText != nil {
				if err := onText(delta.Content); err != nil {
					return nil, err
				}
			}
		}

		// Tool calls arrive in fragments keyed by index
		for _, tc := range delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}

			if existing, exists := toolCallsMap[idx]; !exists {
				toolCallsMap[idx] = &ToolCall{
					ID:   tc.ID,
					Type: "function",
					Function: ToolCallFunc{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				}
			} else {
				existing.Function.Arguments += tc.Function.Arguments
			}
		}
	}

	content := contentBuilder.String()

	// Models without native tool calling may emit <tool_call> markup instead
	if len(toolCallsMap) == 0 && content != "" {
		if parsed := parseTextToolCalls(content, c.logger); len(parsed) > 0 {
			content = cleanModelOutput(content)
			for i := range parsed {
				toolCallsMap[i] = &parsed[i]
			}
		}
	}

	var toolCalls []ToolCall
	for i := 0; i < len(toolCallsMap); i++ {
		if tc, ok := toolCallsMap[i]; ok {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d", i)
			}
			toolCalls = append(toolCalls, *tc)
		}
	}

	c.logger.Info("Chat stream completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_length", len(content)),
		zap.Int("tool_calls", len(toolCalls)))

	return &ChatResponse{Content: content, ToolCalls: toolCalls}, nil
}

// parseTextToolCalls parses <tool_call>{"name": ..., "arguments": {...}}</tool_call> blocks.
func parseTextToolCalls(content string, logger *zap.Logger) []ToolCall {
	var toolCalls []ToolCall

	for i, match := range textToolCallRegex.FindAllStringSubmatch(content, -1) {
		if len(match) < 2 {
			continue
		}

		var toolCallJSON struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(match[1]), &toolCallJSON); err != nil {
			logger.Debug("Failed to parse text tool call", zap.Error(err))
			continue
		}

		argsJSON, err := json.Marshal(toolCallJSON.Arguments)
		if err != nil {
			continue
		}

		toolCalls = append(toolCalls, ToolCall{
			ID:   fmt.Sprintf("text_tool_%d", i),
			Type: "function",
			Function: ToolCallFunc{
				Name:      toolCallJSON.Name,
				Arguments: string(argsJSON),
			},
		})
	}

	return toolCalls
}

// cleanModelOutput removes tool call markup and thinking blocks from model output.
func cleanModelOutput(content string) string {
	content = thinkBlock.ReplaceAllString(content, "")
	content = toolCallBlock.ReplaceAllString(content, "")
	content = multiNewline.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

// buildOpenAIMessages converts our message format to OpenAI format.
func buildOpenAIMessages(messages []Message, systemPrompt string) []openai.ChatCompletionMessage {
	var result []openai.ChatCompletionMessage

	if systemPrompt != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: systemPrompt,
		})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:       msg.Role,
			ToolCallID: msg.ToolCallID,
		}

		// Content and MultiContent are mutually exclusive
		if len(msg.Images) > 0 {
			if msg.Content != "" {
				oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: msg.Content,
				})
			}
			for _, img := range msg.Images {
				oaiMsg.MultiContent = append(oaiMsg.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    img.URL,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		} else {
			oaiMsg.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}

		result = append(result, oaiMsg)
	}

	return result
}

// buildOpenAITools converts our tool definitions to OpenAI format.
func buildOpenAITools(tools []ToolDefinition) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}

	result := make([]openai.Tool, len(tools))
	for i, def := range tools {
		paramsJSON, _ := json.Marshal(def.Parameters)
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  json.RawMessage(paramsJSON),
			},
		}
	}

	return result
}
