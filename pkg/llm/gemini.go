package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GeminiConfig holds configuration for the Gemini API.
type GeminiConfig struct {
	Model  string
	APIKey string
	// BaseURL overrides the API host; empty uses the public endpoint.
	BaseURL string
}

// GeminiClient talks to the Gemini API for both generation and streamed chat.
type GeminiClient struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

var (
	_ Generator = (*GeminiClient)(nil)
	_ ChatModel = (*GeminiClient)(nil)
)

// NewGeminiClient creates a Gemini client.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		model:  cfg.Model,
		logger: logger.Named("llm").With(zap.String("provider", ProviderGemini)),
	}, nil
}

// Generate produces a single completion.
func (c *GeminiClient) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	c.logger.Debug("LLM request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(req.Prompt)),
		zap.Float64("temperature", req.Temperature))

	start := time.Now()

	resp, err := c.client.Models.GenerateContent(ctx, c.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)}, config)
	if err != nil {
		c.logger.Error("LLM request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return nil, classifyProviderError(err, ProviderGemini, c.model)
	}

	text, _ := splitGeminiParts(resp)
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyResponse
	}

	result := &GenerateResult{Content: text}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.logger.Info("LLM request completed",
		zap.Int("prompt_tokens", result.PromptTokens),
		zap.Int("completion_tokens", result.CompletionTokens),
		zap.Duration("elapsed", time.Since(start)))

	return result, nil
}

// StreamChat streams one chat turn. Function calls are collected and
// returned with generated ids when the model does not supply one.
func (c *GeminiClient) StreamChat(ctx context.Context, req ChatRequest, onText func(string) error) (*ChatResponse, error) {
	contents, systemText, err := buildGeminiContents(req.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
		Tools:       buildGeminiTools(req.Tools),
	}
	if system := joinNonEmpty("\n\n", req.SystemPrompt, systemText); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}

	start := time.Now()
	c.logger.Debug("Starting chat stream",
		zap.Int("message_count", len(contents)),
		zap.Int("tool_count", len(req.Tools)))

	var content strings.Builder
	var toolCalls []ToolCall

	for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, config) {
		if err != nil {
			c.logger.Error("Stream receive error", zap.Error(err))
			return nil, classifyProviderError(err, ProviderGemini, c.model)
		}

		text, calls := splitGeminiParts(resp)
		if text != "" {
			content.WriteString(text)
			if onText != nil {
				if err := onText(text); err != nil {
					return nil, err
				}
			}
		}
		for _, fc := range calls {
			args, err := json.Marshal(fc.Args)
			if err != nil || fc.Args == nil {
				args = []byte("{}")
			}
			id := fc.ID
			if id == "" {
				id = "call_" + uuid.NewString()
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:       id,
				Type:     "function",
				Function: ToolCallFunc{Name: fc.Name, Arguments: string(args)},
			})
		}
	}

	c.logger.Info("Chat stream completed",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("content_length", content.Len()),
		zap.Int("tool_calls", len(toolCalls)))

	return &ChatResponse{Content: content.String(), ToolCalls: toolCalls}, nil
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.model
}

// splitGeminiParts returns the visible text and the function calls of the
// first candidate. Thought parts are skipped.
func splitGeminiParts(resp *genai.GenerateContentResponse) (string, []*genai.FunctionCall) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}
	var sb strings.Builder
	var calls []*genai.FunctionCall
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return sb.String(), calls
}

// buildGeminiContents converts chat history to Gemini contents. System
// messages are returned separately; consecutive tool results are merged
// into one user turn as the API expects.
func buildGeminiContents(messages []Message) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.Content)

		case RoleUser:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, img := range msg.Images {
				part, err := geminiImagePart(img)
				if err != nil {
					return nil, "", err
				}
				parts = append(parts, part)
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))
			}

		case RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, genai.NewPartFromText(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				args := map[string]any{}
				if tc.Function.Arguments != "" {
					_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
				}
				parts = append(parts, genai.NewPartFromFunctionCall(tc.Function.Name, args))
			}
			if len(parts) > 0 {
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			}

		case RoleTool:
			part := genai.NewPartFromFunctionResponse(msg.Name, map[string]any{"result": msg.Content})
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
			} else {
				contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			}
		}
	}

	return contents, strings.Join(system, "\n\n"), nil
}

func isFunctionResponseTurn(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// geminiImagePart inlines data URLs and references anything else by URI.
func geminiImagePart(img ImagePart) (*genai.Part, error) {
	if rest, ok := strings.CutPrefix(img.URL, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found {
			return nil, fmt.Errorf("malformed data url")
		}
		mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
		if !isBase64 {
			return nil, fmt.Errorf("data url must be base64 encoded")
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		if mediaType == "" {
			mediaType = img.MediaType
		}
		return genai.NewPartFromBytes(data, mediaType), nil
	}

	mediaType := img.MediaType
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return genai.NewPartFromURI(img.URL, mediaType), nil
}

func buildGeminiTools(tools []ToolDefinition) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, def := range tools {
		decls[i] = &genai.FunctionDeclaration{
			Name:                 def.Name,
			Description:          def.Description,
			ParametersJsonSchema: def.Parameters,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func joinNonEmpty(sep string, values ...string) string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, sep)
}
