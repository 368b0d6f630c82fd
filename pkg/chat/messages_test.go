package chat

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
)

func TestConvertMessages(t *testing.T) {
	system, messages := ConvertMessages([]ClientMessage{
		{Role: "system", Content: "You are terse."},
		{Role: "human", Content: "Plot this", Attachments: []ClientAttachment{
			{ContentType: "image/png", URL: "data:image/png;base64,AAAA"},
			{ContentType: "text/plain", URL: "https://example.com/notes.txt"},
			{ContentType: "application/pdf", URL: "https://example.com/a.pdf"},
		}},
		{Role: "assistant", Content: "", ToolInvocations: []ToolInvocation{{
			State:      InvocationResult,
			ToolCallID: "tc-1",
			ToolName:   "query_duckdb",
			Args:       json.RawMessage(`{"question":"q"}`),
			Result:     json.RawMessage(`{"answer":"a"}`),
		}}},
		{Role: "assistant", Content: ""},
		{Role: "model", Content: "Done."},
	})

	assert.Equal(t, "You are terse.", system)
	require.Len(t, messages, 4)

	assert.Equal(t, llm.Message{
		Role:    llm.RoleUser,
		Content: "Plot this\n[Attachment: https://example.com/notes.txt]",
		Images:  []llm.ImagePart{{URL: "data:image/png;base64,AAAA", MediaType: "image/png"}},
	}, messages[0])

	assert.Equal(t, llm.RoleAssistant, messages[1].Role)
	require.Len(t, messages[1].ToolCalls, 1)
	assert.Equal(t, "tc-1", messages[1].ToolCalls[0].ID)
	assert.Equal(t, "query_duckdb", messages[1].ToolCalls[0].Function.Name)
	assert.Equal(t, `{"question":"q"}`, messages[1].ToolCalls[0].Function.Arguments)

	assert.Equal(t, llm.Message{Role: llm.RoleTool, Content: `{"answer":"a"}`, ToolCallID: "tc-1", Name: "query_duckdb"}, messages[2])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Done."}, messages[3])
}

func TestConvertMessages_CallWithoutResult(t *testing.T) {
	_, messages := ConvertMessages([]ClientMessage{
		{Role: "assistant", ToolInvocations: []ToolInvocation{
			{State: InvocationCall, ToolCallID: "tc-1", ToolName: "create_graph"},
			{State: InvocationPartialCall, ToolCallID: "tc-2", ToolName: "create_graph"},
		}},
	})

	require.Len(t, messages, 1)
	require.Len(t, messages[0].ToolCalls, 1)
	assert.Equal(t, "{}", messages[0].ToolCalls[0].Function.Arguments)
}

func TestWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareHeaders(rec.Header())
	w := NewWriter(rec)

	require.NoError(t, w.Text("hi\n"))
	require.NoError(t, w.ToolCall("id-1", "create_graph", json.RawMessage(`{"graph_type":"bar"}`)))
	require.NoError(t, w.ToolResult("id-1", "create_graph", json.RawMessage(`{"graph_type":"bar"}`), json.RawMessage(`{"image":"x"}`)))
	require.NoError(t, w.Finish(FinishStop))

	assert.Equal(t, "v1", rec.Header().Get(DataStreamHeader))
	assert.True(t, rec.Flushed)
	assert.Equal(t,
		`0:"hi\n"`+"\n"+
			`9:{"toolCallId":"id-1","toolName":"create_graph","args":{"graph_type":"bar"}}`+"\n"+
			`a:{"toolCallId":"id-1","toolName":"create_graph","args":{"graph_type":"bar"},"result":{"image":"x"}}`+"\n"+
			`e:{"finishReason":"stop","usage":{"promptTokens":0,"completionTokens":0},"isContinued":false}`+"\n",
		rec.Body.String())
}
