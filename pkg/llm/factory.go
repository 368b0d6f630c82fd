package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/config"
	"github.com/ekaya-inc/ekaya-datachat/pkg/retry"
)

// Providers are the model clients the service runs with.
type Providers struct {
	// Chat drives streamed chat turns.
	Chat ChatModel
	// Analysis generates SQL, answers and insights. It is guarded by a
	// circuit breaker and retries transient failures.
	Analysis *ResilientGenerator
}

// NewProviders builds the chat and analysis clients selected by cfg.
func NewProviders(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (*Providers, error) {
	chat, err := newChatModel(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("chat provider %s: %w", cfg.ChatProvider, err)
	}

	gen, err := newGenerator(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("analysis provider %s: %w", cfg.AnalysisProvider, err)
	}

	breaker := NewCircuitBreaker(CircuitBreakerConfig{
		Threshold:  cfg.BreakerThreshold,
		ResetAfter: time.Duration(cfg.BreakerResetAfter) * time.Second,
	})

	logger.Info("LLM providers configured",
		zap.String("chat_provider", cfg.ChatProvider),
		zap.String("analysis_provider", cfg.AnalysisProvider),
		zap.String("analysis_model", gen.Model()))

	return &Providers{
		Chat:     chat,
		Analysis: NewResilientGenerator(gen, breaker, retry.DefaultConfig(), logger),
	}, nil
}

func newChatModel(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (ChatModel, error) {
	switch cfg.ChatProvider {
	case ProviderOpenAI:
		return NewOpenAIClient(openAIConfig(cfg), logger)
	case ProviderGemini:
		return NewGeminiClient(ctx, geminiConfig(cfg), logger)
	default:
		return nil, fmt.Errorf("provider does not support streamed chat")
	}
}

func newGenerator(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Generator, error) {
	switch cfg.AnalysisProvider {
	case ProviderOpenAI:
		return NewOpenAIClient(openAIConfig(cfg), logger)
	case ProviderAnthropic:
		return NewAnthropicClient(AnthropicConfig{
			Model:  cfg.Anthropic.Model,
			APIKey: cfg.Anthropic.APIKey,
		}, logger)
	case ProviderGemini:
		return NewGeminiClient(ctx, geminiConfig(cfg), logger)
	default:
		return nil, fmt.Errorf("unknown provider")
	}
}

func openAIConfig(cfg config.LLMConfig) OpenAIConfig {
	return OpenAIConfig{
		Endpoint: cfg.OpenAI.Endpoint,
		Model:    cfg.OpenAI.Model,
		APIKey:   cfg.OpenAI.APIKey,
	}
}

func geminiConfig(cfg config.LLMConfig) GeminiConfig {
	return GeminiConfig{
		Model:  cfg.Gemini.Model,
		APIKey: cfg.Gemini.APIKey,
	}
}
