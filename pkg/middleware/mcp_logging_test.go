package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMCPRequestLogger_LogsToolCall(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	var seenBody string
	handler := MCPRequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(r.Body)
		seenBody = buf.String()
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"content":[]}}`))
	}))

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"query_duckdb","arguments":{"question":"total sales","db_path":"/tmp/uploads/1_sales.duckdb"}}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, body, seenBody, "request body must be restored for the next handler")
	require.Equal(t, 2, logs.Len())

	reqEntry := logs.All()[0]
	assert.Equal(t, "MCP request", reqEntry.Message)
	assert.Equal(t, "query_duckdb", reqEntry.ContextMap()["tool"])
	args, ok := reqEntry.ContextMap()["arguments"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1_sales.duckdb", args["db_path"])

	assert.Equal(t, "MCP response success", logs.All()[1].Message)
}

func TestMCPRequestLogger_ToolErrorResult(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	handler := MCPRequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"isError":true,"content":[]}}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"method":"tools/call","params":{"name":"get_schema"}}`))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "MCP tool returned error result", logs.All()[1].Message)
}

func TestSanitizeArguments(t *testing.T) {
	args := map[string]any{
		"api_key":  "abc",
		"question": strings.Repeat("q", 300),
		"limit":    float64(5),
	}

	result := sanitizeArguments(args)

	assert.Equal(t, "[REDACTED]", result["api_key"])
	assert.Len(t, result["question"], maxLoggedArgLength+3)
	assert.Equal(t, float64(5), result["limit"])
	assert.Nil(t, sanitizeArguments(nil))
}
