package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

// Deps are the services exposed as MCP tools. Analytics may be nil, in
// which case only the health tool is registered.
type Deps struct {
	Version   string
	Analytics services.AnalyticsService
	Files     *files.Registry
	Sessions  *duckdb.Manager
}

// Server wraps the mcp-go MCPServer with the data chat tool set.
type Server struct {
	mcp    *server.MCPServer
	logger *zap.Logger
}

// NewServer creates an MCP server and registers the tools deps allow.
func NewServer(name string, deps Deps, logger *zap.Logger) *Server {
	mcpServer := server.NewMCPServer(
		name,
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpServer,
		logger: logger.Named("mcp"),
	}

	tools.RegisterHealthTool(mcpServer, deps.Version, deps.Sessions, deps.Files)
	if deps.Analytics != nil && deps.Files != nil {
		tools.RegisterAnalyticsTools(mcpServer, &tools.AnalyticsToolDeps{
			Analytics: deps.Analytics,
			Files:     deps.Files,
			Logger:    s.logger,
		})
	}
	return s
}

// MCP returns the underlying MCPServer.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// NewStreamableHTTPServer creates an HTTP transport server wrapping this MCP server.
// The HTTP mux handles routing to /mcp, so no endpoint path is configured here.
func (s *Server) NewStreamableHTTPServer() *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(
		s.mcp,
		server.WithStateLess(true),
	)
}

// RegisterTool registers an additional tool.
func (s *Server) RegisterTool(tool mcp.Tool, handler server.ToolHandlerFunc) {
	s.mcp.AddTool(tool, handler)
}
