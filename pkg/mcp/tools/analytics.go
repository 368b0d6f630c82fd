package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
	sqlcheck "github.com/ekaya-inc/ekaya-datachat/pkg/sql"
	chattools "github.com/ekaya-inc/ekaya-datachat/pkg/tools"
)

// AnalyticsToolDeps contains the dependencies of the database tools.
type AnalyticsToolDeps struct {
	Analytics services.AnalyticsService
	Files     *files.Registry
	Logger    *zap.Logger
}

type queryResult struct {
	Answer     string   `json:"answer"`
	SessionID  string   `json:"session_id"`
	SQLQueries []string `json:"sql_queries,omitempty"`
	Cached     bool     `json:"cached"`
	Insights   string   `json:"insights,omitempty"`
}

type schemaResult struct {
	SessionID string             `json:"session_id"`
	Prompt    string             `json:"prompt"`
	Schema    *duckdb.SchemaInfo `json:"schema"`
}

// RegisterAnalyticsTools adds query_duckdb, get_schema and
// list_available_databases to the MCP server.
func RegisterAnalyticsTools(s *server.MCPServer, deps *AnalyticsToolDeps) {
	registerQueryTool(s, deps)
	registerSchemaTool(s, deps)
	registerListDatabasesTool(s, deps)
}

func registerQueryTool(s *server.MCPServer, deps *AnalyticsToolDeps) {
	tool := mcp.NewTool(
		chattools.ToolQueryDuckDB,
		mcp.WithDescription(
			"Answer a natural-language question about an uploaded DuckDB database. "+
				"Generates read-only SQL, runs it and summarizes the results.",
		),
		mcp.WithString(
			"question",
			mcp.Required(),
			mcp.Description("The question to answer from the data"),
		),
		mcp.WithString(
			"db_path",
			mcp.Required(),
			mcp.Description("File id, uploaded filename or path of the database"),
		),
		mcp.WithString(
			"session_id",
			mcp.Description("Optional session id to reuse the connection and cached schema across questions"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		dbPath, err := req.RequireString("db_path")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		sessionID := req.GetString("session_id", "")

		if hit := checkArguments(deps.Logger, dbPath, sessionID); hit != nil {
			return hit, nil
		}

		answer, err := deps.Analytics.AnalyzeDetailed(ctx, services.AnalyzeRequest{
			Question:  question,
			DBPath:    dbPath,
			SessionID: sessionID,
		})
		if err != nil {
			deps.Logger.Warn("MCP database question failed",
				zap.String("db", logging.SanitizePath(dbPath)),
				zap.String("error", logging.SanitizeError(err)))
			return NewErrorResultWithDetails(ErrorCode(err), services.UserMessage(err),
				map[string]any{"db_path": dbPath}), nil
		}

		return jsonResult(queryResult{
			Answer:     answer.Answer,
			SessionID:  answer.SessionID,
			SQLQueries: answer.SQLQueries,
			Cached:     answer.Cached,
			Insights:   answer.Insights,
		})
	})
}

func registerSchemaTool(s *server.MCPServer, deps *AnalyticsToolDeps) {
	tool := mcp.NewTool(
		"get_schema",
		mcp.WithDescription("Describe the tables, columns, row counts and inferred relationships of a database"),
		mcp.WithString(
			"db_path",
			mcp.Required(),
			mcp.Description("File id, uploaded filename or path of the database"),
		),
		mcp.WithString(
			"session_id",
			mcp.Description("Optional session id to reuse"),
		),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbPath, err := req.RequireString("db_path")
		if err != nil {
			return NewErrorResult("invalid_parameters", err.Error()), nil
		}
		sessionID := req.GetString("session_id", "")

		if hit := checkArguments(deps.Logger, dbPath, sessionID); hit != nil {
			return hit, nil
		}

		schema, usedSession, err := deps.Analytics.Schema(ctx, dbPath, sessionID)
		if err != nil {
			return NewErrorResult(ErrorCode(err), err.Error()), nil
		}
		return jsonResult(schemaResult{
			SessionID: usedSession,
			Prompt:    schema.FormatForPrompt(),
			Schema:    schema,
		})
	})
}

func registerListDatabasesTool(s *server.MCPServer, deps *AnalyticsToolDeps) {
	tool := mcp.NewTool(
		chattools.ToolListDatabases,
		mcp.WithDescription("List the DuckDB databases that have been uploaded, newest first"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		databases := chattools.DescribeDatabases(deps.Files)
		return jsonResult(map[string]any{"databases": databases, "count": len(databases)})
	})
}

// checkArguments rejects identifiers that look like SQL injection payloads.
func checkArguments(logger *zap.Logger, dbPath, sessionID string) *mcp.CallToolResult {
	hits := sqlcheck.CheckArguments(map[string]any{
		"db_path":    dbPath,
		"session_id": sessionID,
	})
	if len(hits) == 0 {
		return nil
	}
	logger.Warn("Rejected suspicious MCP argument",
		zap.String("arg", hits[0].ArgName),
		zap.String("fingerprint", hits[0].Fingerprint))
	return NewErrorResultWithDetails("invalid_parameters", hits[0].Error(),
		map[string]any{"argument": hits[0].ArgName})
}
