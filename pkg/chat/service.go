package chat

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

// DefaultSystemPrompt is used when the conversation carries no system message.
const DefaultSystemPrompt = `You are a helpful data assistant.
When the user asks about an uploaded DuckDB database, call query_duckdb with their question and the database filename. Call list_available_databases if you do not know which files exist.
Use create_graph when a chart would help, and get_current_weather for weather questions.
Answer in clear, plain prose.`

const (
	defaultTemperature = 0.7
	maxSummaryLen      = 1500
)

const followUpInstruction = "Using these results, answer my previous question in plain prose. " +
	"Do not include JSON, code blocks, or other structured data in your answer."

var tracer = otel.Tracer("github.com/ekaya-inc/ekaya-datachat/pkg/chat")

// Config tunes the chat turn.
type Config struct {
	SystemPrompt string
	Temperature  float64
}

// Service runs one chat turn: a streamed model call, the tool calls it
// requests and a single follow-up with their consolidated results.
type Service struct {
	model  llm.ChatModel
	tools  llm.ToolExecutor
	cfg    Config
	logger *zap.Logger
}

// NewService creates a chat service.
func NewService(model llm.ChatModel, tools llm.ToolExecutor, cfg Config, logger *zap.Logger) *Service {
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	return &Service{
		model:  model,
		tools:  tools,
		cfg:    cfg,
		logger: logger.Named("chat"),
	}
}

// executedTool is a tool call that ran during the turn.
type executedTool struct {
	name   string
	result json.RawMessage
}

// errWrite marks failures to deliver records to the client.
type errWrite struct{ err error }

func (e *errWrite) Error() string { return "failed to write stream: " + e.err.Error() }
func (e *errWrite) Unwrap() error { return e.err }

// Stream runs one turn over messages and writes it to w. Model and tool
// failures are reported in the stream and end it with an error finish
// record; the returned error is for logging only.
func (s *Service) Stream(ctx context.Context, messages []ClientMessage, w *Writer) (err error) {
	ctx, span := tracer.Start(ctx, "chat.turn")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Chat turn panicked", zap.Any("panic", r))
			err = fmt.Errorf("chat turn panicked: %v", r)
		}
		if err == nil {
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		var we *errWrite
		if errors.As(err, &we) {
			return
		}
		s.logger.Error("Chat turn failed", zap.String("error", logging.SanitizeError(err)))
		if werr := w.Text("Error: " + err.Error()); werr != nil {
			return
		}
		_ = w.Finish(FinishError)
	}()

	system, history := ConvertMessages(messages)
	if system == "" {
		system = s.cfg.SystemPrompt
	}
	span.SetAttributes(attribute.Int("chat.messages", len(history)))

	first, err := s.model.StreamChat(ctx, llm.ChatRequest{
		SystemPrompt: system,
		Messages:     history,
		Tools:        s.tools.Definitions(),
		Temperature:  s.cfg.Temperature,
	}, func(text string) error {
		if werr := w.Text(text); werr != nil {
			return &errWrite{err: werr}
		}
		return nil
	})
	if err != nil {
		return err
	}

	executed, err := s.runTools(ctx, first.ToolCalls, w)
	if err != nil {
		return err
	}
	span.SetAttributes(attribute.Int("chat.tools", len(executed)))

	if len(executed) > 0 {
		followUp := history
		if strings.TrimSpace(first.Content) != "" {
			followUp = append(followUp, llm.Message{Role: llm.RoleAssistant, Content: first.Content})
		}
		followUp = append(followUp, llm.Message{Role: llm.RoleUser, Content: consolidate(executed)})

		_, err = s.model.StreamChat(ctx, llm.ChatRequest{
			SystemPrompt: system,
			Messages:     followUp,
			Temperature:  s.cfg.Temperature,
		}, func(text string) error {
			if werr := w.Text(text); werr != nil {
				return &errWrite{err: werr}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	if werr := w.Finish(FinishStop); werr != nil {
		return &errWrite{err: werr}
	}
	return nil
}

// runTools executes each distinct tool call once, in order, echoing the
// call and its result to the client.
func (s *Service) runTools(ctx context.Context, calls []llm.ToolCall, w *Writer) ([]executedTool, error) {
	seen := make(map[string]bool, len(calls))
	var executed []executedTool

	for _, call := range calls {
		name := call.Function.Name
		args := canonicalArgs(call.Function.Arguments)

		key := dedupKey(name, args)
		if seen[key] {
			s.logger.Debug("Skipping duplicate tool call", zap.String("tool", name))
			continue
		}
		seen[key] = true

		id := uuid.NewString()
		if err := w.ToolCall(id, name, args); err != nil {
			return nil, &errWrite{err: err}
		}

		result := s.execute(ctx, name, string(args))
		if err := w.ToolResult(id, name, args, result); err != nil {
			return nil, &errWrite{err: err}
		}
		executed = append(executed, executedTool{name: name, result: result})
	}
	return executed, nil
}

// execute runs a tool and always returns a JSON value; failures become
// {"error": msg}.
func (s *Service) execute(ctx context.Context, name, args string) (result json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", r))
			result = errorJSON(fmt.Sprint(r))
		}
	}()

	out, err := s.tools.ExecuteTool(ctx, name, args)
	if err != nil {
		s.logger.Warn("Tool failed", zap.String("tool", name), zap.String("error", logging.SanitizeError(err)))
		return errorJSON(err.Error())
	}
	if !json.Valid([]byte(out)) {
		data, _ := json.Marshal(out)
		return data
	}
	return json.RawMessage(out)
}

func errorJSON(msg string) json.RawMessage {
	data, _ := json.Marshal(map[string]string{"error": msg})
	return data
}

// canonicalArgs re-encodes arguments with sorted keys; anything that is not
// a JSON object becomes {}.
func canonicalArgs(arguments string) json.RawMessage {
	var v map[string]any
	if err := json.Unmarshal([]byte(arguments), &v); err != nil || v == nil {
		return json.RawMessage("{}")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}

func dedupKey(name string, args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return name + ":" + hex.EncodeToString(sum[:])
}

// consolidate builds the single follow-up message that carries every tool
// outcome as short text.
func consolidate(executed []executedTool) string {
	var b strings.Builder
	b.WriteString("Here are the results of the tools you called:\n")
	for _, t := range executed {
		fmt.Fprintf(&b, "\n- %s: %s", t.name, summarize(t.result))
	}
	b.WriteString("\n\n")
	b.WriteString(followUpInstruction)
	return b.String()
}

// summarize reduces one tool result to a sentence the model can use.
func summarize(result json.RawMessage) string {
	var obj map[string]any
	if err := json.Unmarshal(result, &obj); err == nil {
		if msg, ok := obj["error"].(string); ok {
			if answer, ok := obj["answer"].(string); ok && answer != "" {
				return "failed: " + answer
			}
			return "failed: " + msg
		}
		if answer, ok := obj["answer"].(string); ok {
			return answer
		}
		if _, ok := obj["image"]; ok {
			return "the graph was created and is already shown to the user."
		}
		if count, ok := obj["count"].(float64); ok {
			if dbs, ok := obj["databases"].([]any); ok {
				return summarizeDatabases(int(count), dbs)
			}
		}
	}
	return logging.TruncateString(string(result), maxSummaryLen)
}

func summarizeDatabases(count int, dbs []any) string {
	if count == 0 {
		return "no databases have been uploaded."
	}
	names := make([]string, 0, len(dbs))
	for _, d := range dbs {
		if m, ok := d.(map[string]any); ok {
			if name, ok := m["filename"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return fmt.Sprintf("%d database(s) available: %s.", count, strings.Join(names, ", "))
}
