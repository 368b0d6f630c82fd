package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"
)

const defaultAnthropicMaxTokens = 2000

// AnthropicConfig holds configuration for the Anthropic messages API.
type AnthropicConfig struct {
	Model  string
	APIKey string
}

// AnthropicClient generates completions through the Anthropic messages API.
// It does not stream chat turns; it backs the analytical pipeline only.
type AnthropicClient struct {
	client *anthropic.Client
	model  string
	logger *zap.Logger
}

var _ Generator = (*AnthropicClient)(nil)

// NewAnthropicClient creates an Anthropic client.
func NewAnthropicClient(cfg AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &AnthropicClient{
		client: anthropic.NewClient(cfg.APIKey),
		model:  cfg.Model,
		logger: logger.Named("llm").With(zap.String("provider", ProviderAnthropic)),
	}, nil
}

// Generate sends a single user message and returns the concatenated text blocks.
func (c *AnthropicClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	temperature := float32(req.Temperature)
	prompt := req.Prompt

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", req.Temperature))

	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyProviderError(err, ProviderAnthropic, c.model)
	}

	content := extractAnthropicText(resp)
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", resp.Usage.InputTokens),
		zap.Int("completion_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResult{
		Content:          content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}, nil
}

// Model returns the configured model name.
func (c *AnthropicClient) Model() string {
	return c.model
}

func extractAnthropicText(resp anthropic.MessagesResponse) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			sb.WriteString(*block.Text)
		}
	}
	return sb.String()
}
