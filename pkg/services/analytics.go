package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-datachat/pkg/cache"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/prompts"
	sqlcheck "github.com/ekaya-inc/ekaya-datachat/pkg/sql"
)

const (
	sqlGenerationMaxTokens = 2048
	synthesisMaxTokens     = 1024
)

var tracer = otel.Tracer("github.com/ekaya-inc/ekaya-datachat/pkg/services")

// AnalyzeRequest is one natural-language question about a database file.
type AnalyzeRequest struct {
	Question string `json:"question"`
	// DBPath is an absolute file path, a registered file id or an uploaded filename.
	DBPath    string `json:"db_path"`
	SessionID string `json:"session_id,omitempty"`
}

// Answer is the clean result returned to chat tools and the analyze endpoint.
type Answer struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
}

// DetailedAnswer adds the generated SQL and raw results to an Answer.
type DetailedAnswer struct {
	Answer     string                `json:"answer"`
	SessionID  string                `json:"session_id"`
	SQLQueries []string              `json:"sql_queries"`
	Results    []*duckdb.QueryResult `json:"results"`
	Cached     bool                  `json:"cached"`
	Insights   string                `json:"insights,omitempty"`
}

// AnswerCache memoizes detailed answers by question and data source.
type AnswerCache = cache.QueryCache[*DetailedAnswer]

// NewAnswerCache creates an empty answer cache.
func NewAnswerCache(cfg cache.Config, logger *zap.Logger) *AnswerCache {
	return cache.New[*DetailedAnswer](cfg, logger)
}

// AnalyticsService answers natural-language questions over DuckDB files.
type AnalyticsService interface {
	// Analyze runs the full pipeline and returns only the answer text.
	Analyze(ctx context.Context, req AnalyzeRequest) (*Answer, error)

	// AnalyzeDetailed runs the full pipeline and also returns the SQL,
	// the raw results and, when enabled, an insights footnote.
	AnalyzeDetailed(ctx context.Context, req AnalyzeRequest) (*DetailedAnswer, error)

	// ResolveDatabase maps a path, file id or filename to a file on disk.
	ResolveDatabase(ref string) (string, error)

	// Schema returns the schema of the referenced database through a session.
	Schema(ctx context.Context, ref, sessionID string) (*duckdb.SchemaInfo, string, error)
}

type analyticsService struct {
	sessions  *duckdb.Manager
	files     *files.Registry
	answers   *AnswerCache
	generator llm.Generator
	insights  InsightsService
	logger    *zap.Logger
}

var _ AnalyticsService = (*analyticsService)(nil)

// NewAnalyticsService creates the analytical query orchestrator. insights
// may be nil to disable footnotes.
func NewAnalyticsService(
	sessions *duckdb.Manager,
	registry *files.Registry,
	answers *AnswerCache,
	generator llm.Generator,
	insights InsightsService,
	logger *zap.Logger,
) AnalyticsService {
	return &analyticsService{
		sessions:  sessions,
		files:     registry,
		answers:   answers,
		generator: generator,
		insights:  insights,
		logger:    logger.Named("analytics"),
	}
}

func (s *analyticsService) Analyze(ctx context.Context, req AnalyzeRequest) (*Answer, error) {
	detailed, err := s.run(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return &Answer{Answer: detailed.Answer, SessionID: detailed.SessionID}, nil
}

func (s *analyticsService) AnalyzeDetailed(ctx context.Context, req AnalyzeRequest) (*DetailedAnswer, error) {
	return s.run(ctx, req, true)
}

func (s *analyticsService) run(ctx context.Context, req AnalyzeRequest, detailed bool) (_ *DetailedAnswer, err error) {
	ctx, span := tracer.Start(ctx, "analytics.analyze")
	span.SetAttributes(
		attribute.String("analytics.db_ref", req.DBPath),
		attribute.Bool("analytics.detailed", detailed),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question is required: %w", apperrors.ErrInvalidInput)
	}
	if strings.TrimSpace(req.DBPath) == "" {
		return nil, fmt.Errorf("db_path is required: %w", apperrors.ErrInvalidInput)
	}

	if cached, ok := s.answers.Get(req.Question, req.DBPath); ok {
		span.AddEvent("cache_hit")
		s.logger.Info("Returning cached answer", zap.String("question", logging.TruncateString(req.Question, 50)))
		out := *cached
		out.Cached = true
		return &out, nil
	}

	path, err := s.ResolveDatabase(req.DBPath)
	if err != nil {
		return nil, err
	}
	span.AddEvent("resolved")

	session, err := s.sessions.GetOrCreate(path, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	span.SetAttributes(attribute.String("analytics.session_id", session.ID()))

	schema := session.SchemaInfo(ctx)
	if schema.IsEmpty() {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), apperrors.ErrNoTables)
	}
	span.AddEvent("schema", attributeInt("tables", len(schema.Tables)))

	queries, err := s.generateSQL(ctx, req.Question, schema)
	if err != nil {
		return nil, err
	}
	span.AddEvent("sql_generated", attributeInt("queries", len(queries)))

	results := session.ExecuteQueries(ctx, queries)
	if err := requireSuccess(results); err != nil {
		return nil, err
	}
	span.AddEvent("executed", attributeInt("results", len(results)))

	answer := s.synthesize(ctx, req.Question, queries, results)
	span.AddEvent("synthesized")

	out := &DetailedAnswer{
		Answer:     answer,
		SessionID:  session.ID(),
		SQLQueries: queries,
		Results:    results,
	}
	if detailed && s.insights != nil {
		out.Insights = s.insights.Footnote(ctx, session, req.Question, answer)
	}

	s.answers.Put(req.Question, req.DBPath, out)

	s.logger.Info("Answered question",
		zap.String("session_id", session.ID()),
		zap.Int("queries", len(queries)),
		zap.Int("results", len(results)),
	)
	return out, nil
}

// ResolveDatabase uses an existing absolute path as is and otherwise looks
// the reference up in the file registry by id, then by filename.
func (s *analyticsService) ResolveDatabase(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if filepath.IsAbs(ref) {
		if info, err := os.Stat(ref); err == nil && info.Mode().IsRegular() {
			return ref, nil
		}
	}

	if entry, ok := s.files.Get(ref); ok {
		return entry.Path, nil
	}
	if base := filepath.Base(ref); base != ref {
		if entry, ok := s.files.Get(base); ok {
			return entry.Path, nil
		}
	}

	return "", fmt.Errorf("database file %q not found in uploaded files: %w", ref, apperrors.ErrNotFound)
}

func (s *analyticsService) Schema(ctx context.Context, ref, sessionID string) (*duckdb.SchemaInfo, string, error) {
	path, err := s.ResolveDatabase(ref)
	if err != nil {
		return nil, "", err
	}
	session, err := s.sessions.GetOrCreate(path, sessionID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open session: %w", err)
	}
	schema := session.SchemaInfo(ctx)
	if schema.IsEmpty() {
		return nil, session.ID(), fmt.Errorf("%s: %w", filepath.Base(path), apperrors.ErrNoTables)
	}
	return schema, session.ID(), nil
}

// generateSQL asks the model for candidate queries and keeps those that
// pass the read-only allow-list.
func (s *analyticsService) generateSQL(ctx context.Context, question string, schema *duckdb.SchemaInfo) ([]string, error) {
	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompts.BuildSQLGenerationPrompt(question, schema.FormatForPrompt()),
		Temperature: 0,
		MaxTokens:   sqlGenerationMaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate SQL: %w", err)
	}

	candidates, err := llm.ParseStringArray(result.Content)
	if err != nil {
		s.logger.Warn("Could not parse generated SQL",
			zap.String("response", logging.TruncateString(result.Content, 200)),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to parse generated SQL: %w", err)
	}

	accepted, rejected := sqlcheck.FilterReadOnly(candidates)
	for _, reason := range rejected {
		s.logger.Warn("Rejected generated query", zap.String("reason", reason))
	}
	for _, q := range accepted {
		if sqlcheck.HasNestedWindowFunction(q) {
			s.logger.Warn("Generated query nests window functions and may fail",
				zap.String("sql", logging.SanitizeQuery(q)))
		}
	}

	if len(accepted) == 0 {
		return nil, apperrors.ErrNoValidQueries
	}
	s.logger.Debug("Generated SQL", zap.Int("accepted", len(accepted)), zap.Int("rejected", len(rejected)))
	return accepted, nil
}

// synthesize asks the model for the final answer and falls back to the
// templated summary when the call fails or returns nothing.
func (s *analyticsService) synthesize(ctx context.Context, question string, queries []string, results []*duckdb.QueryResult) string {
	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompts.BuildSynthesisPrompt(question, queries, results),
		Temperature: 0,
		MaxTokens:   synthesisMaxTokens,
	})
	if err != nil {
		s.logger.Warn("Response synthesis failed, using fallback", zap.String("error", logging.SanitizeError(err)))
		return FallbackResponse(question, results)
	}

	text := ExtractCleanResponse(strings.TrimSpace(result.Content))
	if strings.TrimSpace(text) == "" {
		s.logger.Warn("Empty synthesis response, using fallback")
		return FallbackResponse(question, results)
	}
	return text
}

// requireSuccess fails when no statement succeeded, listing every error.
func requireSuccess(results []*duckdb.QueryResult) error {
	msgs := make([]string, 0, len(results))
	for _, r := range results {
		if r.Success {
			return nil
		}
		msgs = append(msgs, r.Error)
	}
	return fmt.Errorf("no queries executed successfully: %s", strings.Join(msgs, "; "))
}

func attributeInt(key string, v int) trace.EventOption {
	return trace.WithAttributes(attribute.Int(key, v))
}

// UserMessage turns a pipeline error into the apologetic sentence shown to
// end users.
func UserMessage(err error) string {
	reason := err.Error()
	switch {
	case errors.Is(err, llm.ErrCircuitOpen):
		reason = "the language model service is temporarily unavailable, please try again shortly"
	case errors.Is(err, apperrors.ErrNoValidQueries):
		reason = "I couldn't turn that question into a valid query for this database"
	case errors.Is(err, apperrors.ErrCapacityReached):
		reason = "the server is handling too many sessions right now, please try again later"
	}
	return fmt.Sprintf("I'm sorry, I couldn't analyze your data: %s", reason)
}
