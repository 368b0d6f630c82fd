// Package tools implements the functions the chat model may call.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
	sqlcheck "github.com/ekaya-inc/ekaya-datachat/pkg/sql"
)

// Tool names offered to the chat model.
const (
	ToolWeather       = "get_current_weather"
	ToolCreateGraph   = "create_graph"
	ToolQueryDuckDB   = "query_duckdb"
	ToolListDatabases = "list_available_databases"
	ToolSearchWeb     = "search_web"
)

var tracer = otel.Tracer("github.com/ekaya-inc/ekaya-datachat/pkg/tools")

// ExecutorConfig holds the backends the tools call into. A nil Weather,
// Analytics or Search leaves the corresponding tools out.
type ExecutorConfig struct {
	Analytics services.AnalyticsService
	Files     *files.Registry
	Weather   *WeatherClient
	Search    *SearchClient
	Logger    *zap.Logger
}

// Executor dispatches tool calls by name.
type Executor struct {
	analytics services.AnalyticsService
	files     *files.Registry
	weather   *WeatherClient
	search    *SearchClient
	logger    *zap.Logger
}

var _ llm.ToolExecutor = (*Executor)(nil)

// NewExecutor creates a tool executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		analytics: cfg.Analytics,
		files:     cfg.Files,
		weather:   cfg.Weather,
		search:    cfg.Search,
		logger:    cfg.Logger.Named("tool-executor"),
	}
}

// Definitions returns the tool schemas for the configured backends.
func (e *Executor) Definitions() []llm.ToolDefinition {
	var defs []llm.ToolDefinition
	if e.weather != nil {
		defs = append(defs, llm.NewToolDefinition(ToolWeather,
			"Get the current weather at a location",
			map[string]llm.ParameterProperty{
				"latitude":  {Type: "number", Description: "The latitude of the location"},
				"longitude": {Type: "number", Description: "The longitude of the location"},
			},
			[]string{"latitude", "longitude"},
		))
	}

	defs = append(defs, llm.NewToolDefinition(ToolCreateGraph,
		"Create a bar or line graph from tabular data and return it as a base64 PNG image",
		map[string]llm.ParameterProperty{
			"data": {
				Type:        "array",
				Description: "Rows to plot, each an object such as {\"month\": \"Jan\", \"value\": 10}",
				Items:       map[string]any{"type": "object"},
			},
			"graph_type": {Type: "string", Description: "The kind of graph to draw", Enum: []string{GraphBar, GraphLine}},
			"title":      {Type: "string", Description: "Graph title"},
			"x_label":    {Type: "string", Description: "Label for the x axis"},
			"y_label":    {Type: "string", Description: "Label for the y axis"},
		},
		[]string{"data", "graph_type"},
	))

	if e.analytics != nil {
		defs = append(defs,
			llm.NewToolDefinition(ToolQueryDuckDB,
				"Answer a natural-language question about an uploaded DuckDB database. Pass the question as asked and the database filename or path.",
				map[string]llm.ParameterProperty{
					"question":   {Type: "string", Description: "The question to answer from the data"},
					"db_path":    {Type: "string", Description: "Uploaded filename, file id or absolute path of the DuckDB file"},
					"session_id": {Type: "string", Description: "Session id from a previous answer, to reuse its connection"},
				},
				[]string{"question", "db_path"},
			),
			llm.NewToolDefinition(ToolListDatabases,
				"List the DuckDB files that have been uploaded and can be queried",
				map[string]llm.ParameterProperty{},
				nil,
			),
		)
	}

	if e.search != nil {
		defs = append(defs, llm.NewToolDefinition(ToolSearchWeb,
			"Search the web for current information",
			map[string]llm.ParameterProperty{
				"query": {Type: "string", Description: "The search query"},
			},
			[]string{"query"},
		))
	}
	return defs
}

// ExecuteTool runs one tool and returns its JSON result. Failures that the
// model can act on are returned as {"error": ...} results; a panic inside a
// tool is recovered into an error.
func (e *Executor) ExecuteTool(ctx context.Context, name string, arguments string) (result string, err error) {
	ctx, span := tracer.Start(ctx, "tools.execute")
	span.SetAttributes(attribute.String("tool.name", name))
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Tool panicked", zap.String("tool", name), zap.Any("panic", r))
			err = fmt.Errorf("tool %s failed: %v", name, r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.logger.Debug("Executed tool",
			zap.String("tool", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Bool("ok", err == nil))
	}()

	if strings.TrimSpace(arguments) == "" {
		arguments = "{}"
	}

	var out any
	switch name {
	case ToolWeather:
		out, err = e.getWeather(ctx, arguments)
	case ToolCreateGraph:
		out, err = e.createGraph(arguments)
	case ToolQueryDuckDB:
		out, err = e.queryDuckDB(ctx, arguments)
	case ToolListDatabases:
		out, err = e.listDatabases()
	case ToolSearchWeb:
		out, err = e.searchWeb(ctx, arguments)
	default:
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode %s result: %w", name, err)
	}
	return string(data), nil
}

func decodeArgs(arguments string, dst any) error {
	if err := json.Unmarshal([]byte(arguments), dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func errorResult(msg string) map[string]any {
	return map[string]any{"error": msg}
}

type weatherArgs struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

func (e *Executor) getWeather(ctx context.Context, arguments string) (any, error) {
	if e.weather == nil {
		return nil, errors.New("weather tool is not configured")
	}
	var args weatherArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	if args.Latitude == nil || args.Longitude == nil {
		return nil, errors.New("latitude and longitude are required")
	}
	return e.weather.Current(ctx, *args.Latitude, *args.Longitude)
}

func (e *Executor) createGraph(arguments string) (any, error) {
	var req GraphRequest
	if err := decodeArgs(arguments, &req); err != nil {
		return errorResult("invalid data format: expected a list of objects"), nil
	}
	image, err := RenderGraph(req)
	if err != nil {
		e.logger.Warn("Graph rendering failed", zap.Error(err))
		return errorResult(err.Error()), nil
	}
	return map[string]any{"image": image}, nil
}

type queryArgs struct {
	Question  string `json:"question"`
	DBPath    string `json:"db_path"`
	SessionID string `json:"session_id"`
}

func (e *Executor) queryDuckDB(ctx context.Context, arguments string) (any, error) {
	if e.analytics == nil {
		return nil, errors.New("database tools are not configured")
	}
	var args queryArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}

	hits := sqlcheck.CheckArguments(map[string]any{
		"db_path":    args.DBPath,
		"session_id": args.SessionID,
	})
	if len(hits) > 0 {
		for _, hit := range hits {
			e.logger.Warn("Rejected suspicious tool argument",
				zap.String("tool", ToolQueryDuckDB),
				zap.String("arg", hit.ArgName),
				zap.String("fingerprint", hit.Fingerprint))
		}
		return errorResult(hits[0].Error()), nil
	}

	answer, err := e.analytics.Analyze(ctx, services.AnalyzeRequest{
		Question:  args.Question,
		DBPath:    args.DBPath,
		SessionID: args.SessionID,
	})
	if err != nil {
		e.logger.Warn("Database question failed",
			zap.String("db", logging.SanitizePath(args.DBPath)),
			zap.String("error", logging.SanitizeError(err)))
		return map[string]any{
			"error":  err.Error(),
			"answer": services.UserMessage(err),
		}, nil
	}
	return answer, nil
}

// DatabaseInfo is one entry of list_available_databases.
type DatabaseInfo struct {
	FileID       string    `json:"file_id"`
	Filename     string    `json:"filename"`
	TableName    string    `json:"table_name"`
	AllTables    []string  `json:"all_tables"`
	Columns      []string  `json:"columns"`
	FileSize     int64     `json:"file_size"`
	RegisteredAt time.Time `json:"registered_at"`
}

func (e *Executor) listDatabases() (any, error) {
	if e.files == nil {
		return nil, errors.New("file registry is not configured")
	}
	databases := DescribeDatabases(e.files)
	return map[string]any{"databases": databases, "count": len(databases)}, nil
}

// DescribeDatabases lists the registered files, newest first.
func DescribeDatabases(registry *files.Registry) []DatabaseInfo {
	entries := registry.List()
	databases := make([]DatabaseInfo, 0, len(entries))
	for _, entry := range entries {
		databases = append(databases, DatabaseInfo{
			FileID:       entry.ID,
			Filename:     entry.Filename,
			TableName:    entry.Metadata.TableName,
			AllTables:    entry.Metadata.AllTables,
			Columns:      entry.Metadata.Columns,
			FileSize:     entry.Metadata.FileSize,
			RegisteredAt: entry.RegisteredAt,
		})
	}
	return databases
}

type searchArgs struct {
	Query string `json:"query"`
}

func (e *Executor) searchWeb(ctx context.Context, arguments string) (any, error) {
	if e.search == nil {
		return nil, errors.New("web search is not configured")
	}
	var args searchArgs
	if err := decodeArgs(arguments, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("query is required")
	}
	results, err := e.search.Search(ctx, args.Query)
	if err != nil {
		return nil, err
	}
	return map[string]any{"results": results}, nil
}
