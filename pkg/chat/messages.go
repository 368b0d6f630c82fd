// Package chat drives streamed chat turns with tool calling and encodes
// them as a data stream.
package chat

import (
	"encoding/json"
	"strings"

	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
)

// Tool invocation states sent by the client.
const (
	InvocationCall        = "call"
	InvocationPartialCall = "partial-call"
	InvocationResult      = "result"
)

// ClientMessage is one message of the inbound conversation.
type ClientMessage struct {
	Role            string             `json:"role"`
	Content         string             `json:"content"`
	Attachments     []ClientAttachment `json:"experimental_attachments,omitempty"`
	ToolInvocations []ToolInvocation   `json:"toolInvocations,omitempty"`
}

// ClientAttachment is a file attached to a message.
type ClientAttachment struct {
	Name        string `json:"name,omitempty"`
	ContentType string `json:"contentType"`
	URL         string `json:"url"`
}

// ToolInvocation is a tool call the client has already seen.
type ToolInvocation struct {
	State      string          `json:"state"`
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
}

// ConvertMessages maps client messages onto model messages. The last
// system message becomes the returned system prompt. Messages with no
// content, attachments or invocations are dropped.
func ConvertMessages(messages []ClientMessage) (string, []llm.Message) {
	var system string
	out := make([]llm.Message, 0, len(messages))

	for _, m := range messages {
		if m.Role == llm.RoleSystem {
			system = m.Content
			continue
		}

		role := llm.RoleAssistant
		if m.Role == "user" || m.Role == "human" {
			role = llm.RoleUser
		}

		msg := llm.Message{Role: role}
		var text []string
		if m.Content != "" {
			text = append(text, m.Content)
		}
		for _, a := range m.Attachments {
			switch {
			case strings.HasPrefix(a.ContentType, "image"):
				msg.Images = append(msg.Images, llm.ImagePart{URL: a.URL, MediaType: a.ContentType})
			case strings.HasPrefix(a.ContentType, "text"):
				text = append(text, "[Attachment: "+a.URL+"]")
			}
		}
		msg.Content = strings.Join(text, "\n")

		var results []llm.Message
		for _, inv := range m.ToolInvocations {
			if inv.State != InvocationCall && inv.State != InvocationResult {
				continue
			}
			msg.Role = llm.RoleAssistant
			msg.ToolCalls = append(msg.ToolCalls, llm.ToolCall{
				ID:   inv.ToolCallID,
				Type: "function",
				Function: llm.ToolCallFunc{
					Name:      inv.ToolName,
					Arguments: rawOrEmpty(inv.Args),
				},
			})
			if inv.State == InvocationResult {
				results = append(results, llm.Message{
					Role:       llm.RoleTool,
					Content:    rawOrEmpty(inv.Result),
					ToolCallID: inv.ToolCallID,
					Name:       inv.ToolName,
				})
			}
		}

		if msg.Content == "" && len(msg.Images) == 0 && len(msg.ToolCalls) == 0 {
			continue
		}
		out = append(out, msg)
		out = append(out, results...)
	}
	return system, out
}

func rawOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
