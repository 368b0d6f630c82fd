package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
)

type healthResult struct {
	Status   string               `json:"status"`
	Version  string               `json:"version"`
	Sessions *duckdb.ManagerStats `json:"sessions,omitempty"`
	Files    *int                 `json:"files,omitempty"`
}

// RegisterHealthTool adds a health check tool to the MCP server.
// sessions and registry are optional.
func RegisterHealthTool(s *server.MCPServer, version string, sessions *duckdb.Manager, registry *files.Registry) {
	tool := mcp.NewTool(
		"health",
		mcp.WithDescription("Returns server health status and version"),
		mcp.WithReadOnlyHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := healthResult{Status: "ok", Version: version}
		if sessions != nil {
			stats := sessions.Stats()
			result.Sessions = &stats
		}
		if registry != nil {
			n := registry.Len()
			result.Files = &n
		}
		out, err := jsonResult(result)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal health result: %w", err)
		}
		return out, nil
	})
}
