package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

type fakeAnalytics struct {
	answer   *services.DetailedAnswer
	schema   *duckdb.SchemaInfo
	err      error
	requests []services.AnalyzeRequest
}

func (f *fakeAnalytics) Analyze(ctx context.Context, req services.AnalyzeRequest) (*services.Answer, error) {
	return nil, fmt.Errorf("not used")
}

func (f *fakeAnalytics) AnalyzeDetailed(ctx context.Context, req services.AnalyzeRequest) (*services.DetailedAnswer, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.answer, nil
}

func (f *fakeAnalytics) ResolveDatabase(ref string) (string, error) {
	return ref, f.err
}

func (f *fakeAnalytics) Schema(ctx context.Context, ref, sessionID string) (*duckdb.SchemaInfo, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	if sessionID == "" {
		sessionID = "generated"
	}
	return f.schema, sessionID, nil
}

// callTool invokes a tool through the JSON-RPC entry point and returns the
// first text content and the isError flag.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (string, bool) {
	t.Helper()
	params := map[string]any{"name": name}
	if args != nil {
		params["arguments"] = args
	}
	request, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params":  params,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(s.HandleMessage(context.Background(), request))
	require.NoError(t, err)

	var response struct {
		Result struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
			IsError bool `json:"isError"`
		} `json:"result"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(raw, &response))
	require.Nil(t, response.Error, "unexpected JSON-RPC error")
	require.NotEmpty(t, response.Result.Content)
	return response.Result.Content[0].Text, response.Result.IsError
}

func newAnalyticsServer(t *testing.T, analytics *fakeAnalytics) (*server.MCPServer, *files.Registry) {
	t.Helper()
	registry := files.NewRegistry(5, 0, zaptest.NewLogger(t))
	s := server.NewMCPServer("test", "1.0.0", server.WithToolCapabilities(true))
	RegisterAnalyticsTools(s, &AnalyticsToolDeps{
		Analytics: analytics,
		Files:     registry,
		Logger:    zaptest.NewLogger(t),
	})
	return s, registry
}

func TestQueryTool_ReturnsAnswer(t *testing.T) {
	analytics := &fakeAnalytics{answer: &services.DetailedAnswer{
		Answer:     "West leads with 300.",
		SessionID:  "conv-1",
		SQLQueries: []string{"SELECT region FROM sales"},
	}}
	s, _ := newAnalyticsServer(t, analytics)

	text, isError := callTool(t, s, "query_duckdb", map[string]any{
		"question":   "Which region sells most?",
		"db_path":    "sales.duckdb",
		"session_id": "conv-1",
	})
	require.False(t, isError, text)

	var result queryResult
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "West leads with 300.", result.Answer)
	assert.Equal(t, "conv-1", result.SessionID)
	assert.Equal(t, []string{"SELECT region FROM sales"}, result.SQLQueries)

	require.Len(t, analytics.requests, 1)
	assert.Equal(t, "sales.duckdb", analytics.requests[0].DBPath)
	assert.Equal(t, "conv-1", analytics.requests[0].SessionID)
}

func TestQueryTool_MissingQuestion(t *testing.T) {
	analytics := &fakeAnalytics{}
	s, _ := newAnalyticsServer(t, analytics)

	text, isError := callTool(t, s, "query_duckdb", map[string]any{"db_path": "sales.duckdb"})
	assert.True(t, isError)
	assert.Contains(t, text, "invalid_parameters")
	assert.Empty(t, analytics.requests)
}

func TestQueryTool_RejectsInjection(t *testing.T) {
	analytics := &fakeAnalytics{}
	s, _ := newAnalyticsServer(t, analytics)

	text, isError := callTool(t, s, "query_duckdb", map[string]any{
		"question": "totals",
		"db_path":  "x' OR '1'='1",
	})
	assert.True(t, isError)
	assert.Contains(t, text, "invalid_parameters")
	assert.Empty(t, analytics.requests)
}

func TestQueryTool_ServiceError(t *testing.T) {
	analytics := &fakeAnalytics{err: fmt.Errorf("missing.duckdb: %w", apperrors.ErrNotFound)}
	s, _ := newAnalyticsServer(t, analytics)

	text, isError := callTool(t, s, "query_duckdb", map[string]any{
		"question": "totals",
		"db_path":  "missing.duckdb",
	})
	assert.True(t, isError)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(text), &resp))
	assert.Equal(t, "database_not_found", resp.Code)
	assert.Equal(t, services.UserMessage(analytics.err), resp.Message)
}

func TestSchemaTool(t *testing.T) {
	schema := duckdb.EmptySchema()
	schema.Tables = []string{"sales"}
	schema.Schemas["sales"] = []duckdb.ColumnInfo{{Name: "region", Type: "VARCHAR", Nullable: true}}
	schema.RowCounts["sales"] = 3
	s, _ := newAnalyticsServer(t, &fakeAnalytics{schema: schema})

	text, isError := callTool(t, s, "get_schema", map[string]any{"db_path": "sales.duckdb"})
	require.False(t, isError, text)

	var result struct {
		SessionID string            `json:"session_id"`
		Prompt    string            `json:"prompt"`
		Schema    duckdb.SchemaInfo `json:"schema"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	assert.Equal(t, "generated", result.SessionID)
	assert.Contains(t, result.Prompt, "sales")
	assert.Equal(t, []string{"sales"}, result.Schema.Tables)
	assert.Equal(t, int64(3), result.Schema.RowCounts["sales"])
}

func TestListDatabasesTool(t *testing.T) {
	s, registry := newAnalyticsServer(t, &fakeAnalytics{})

	text, isError := callTool(t, s, "list_available_databases", nil)
	require.False(t, isError)
	assert.JSONEq(t, `{"databases":[],"count":0}`, text)

	path := filepath.Join(t.TempDir(), "sales.duckdb")
	require.NoError(t, os.WriteFile(path, []byte("duck"), 0o600))
	id, err := registry.Register("sales.duckdb", path, files.Metadata{TableName: "sales", AllTables: []string{"sales"}})
	require.NoError(t, err)

	text, _ = callTool(t, s, "list_available_databases", nil)
	var result struct {
		Databases []struct {
			FileID    string `json:"file_id"`
			Filename  string `json:"filename"`
			TableName string `json:"table_name"`
		} `json:"databases"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &result))
	require.Equal(t, 1, result.Count)
	assert.Equal(t, id, result.Databases[0].FileID)
	assert.Equal(t, "sales", result.Databases[0].TableName)
}
