package chat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// DataStreamHeader marks a response as a data stream for the client SDK.
const DataStreamHeader = "x-vercel-ai-data-stream"

// Finish reasons carried by the terminal record.
const (
	FinishStop  = "stop"
	FinishError = "error"
)

// Writer encodes data-stream records, one per line, flushing after each.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w. When w is an http.Flusher every record is flushed.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// PrepareHeaders sets the data-stream response headers.
func PrepareHeaders(h http.Header) {
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	h.Set(DataStreamHeader, "v1")
}

type toolCallRecord struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
}

type toolResultRecord struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args"`
	Result     json.RawMessage `json:"result"`
}

type usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

type finishRecord struct {
	FinishReason string `json:"finishReason"`
	Usage        usage  `json:"usage"`
	IsContinued  bool   `json:"isContinued"`
}

// Text writes a 0: text fragment.
func (w *Writer) Text(text string) error {
	return w.record('0', text)
}

// ToolCall writes a 9: tool invocation.
func (w *Writer) ToolCall(id, name string, args json.RawMessage) error {
	return w.record('9', toolCallRecord{ToolCallID: id, ToolName: name, Args: args})
}

// ToolResult writes an a: tool result. result must be valid JSON.
func (w *Writer) ToolResult(id, name string, args, result json.RawMessage) error {
	return w.record('a', toolResultRecord{ToolCallID: id, ToolName: name, Args: args, Result: result})
}

// Finish writes the terminal e: record.
func (w *Writer) Finish(reason string) error {
	return w.record('e', finishRecord{FinishReason: reason})
}

func (w *Writer) record(code byte, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %c record: %w", code, err)
	}
	line := make([]byte, 0, len(data)+3)
	line = append(line, code, ':')
	line = append(line, data...)
	line = append(line, '\n')
	if _, err := w.w.Write(line); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
