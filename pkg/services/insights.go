package services

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/llm"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/prompts"
	sqlcheck "github.com/ekaya-inc/ekaya-datachat/pkg/sql"
)

const (
	insightTemperature = 0.2
	insightMaxTokens   = 1024
	maxInsightQueries  = 3
)

// QuestionType categorizes a question for outlier-focused follow-up queries.
type QuestionType string

const (
	QuestionLeadsVolume     QuestionType = "leads_volume"
	QuestionWinRate         QuestionType = "win_rate"
	QuestionMarketingSource QuestionType = "marketing_source"
	QuestionIndustry        QuestionType = "industry_analysis"
	QuestionTemporal        QuestionType = "temporal_analysis"
)

type questionHandler struct {
	kind       QuestionType
	patterns   []*regexp.Regexp
	focusAreas []string
}

// questionHandlers are checked in order; the first pattern hit wins.
var questionHandlers = []questionHandler{
	{
		kind:       QuestionLeadsVolume,
		patterns:   compileAll(`most leads`, `lead count`, `number of leads`, `leads.*month`, `leads.*time`),
		focusAreas: []string{"outlier_detection", "bulk_submissions", "notable_individual_leads", "temporal_clustering"},
	},
	{
		kind:       QuestionWinRate,
		patterns:   compileAll(`win rate`, `conversion`, `deals won`, `success rate`, `close rate`),
		focusAreas: []string{"exceptional_performers", "conversion_outliers", "deal_anomalies", "segment_deviations"},
	},
	{
		kind:       QuestionMarketingSource,
		patterns:   compileAll(`marketing source`, `traffic source`, `channel`, `campaign`),
		focusAreas: []string{"source_outliers", "campaign_spikes", "channel_anomalies", "performance_deviations"},
	},
	{
		kind:       QuestionIndustry,
		patterns:   compileAll(`industry`, `sector`, `vertical`, `business type`),
		focusAreas: []string{"industry_outliers", "sector_concentrations", "vertical_anomalies", "business_type_spikes"},
	},
	{
		kind:       QuestionTemporal,
		patterns:   compileAll(`month`, `quarter`, `year`, `time`, `when`, `period`),
		focusAreas: []string{"temporal_outliers", "seasonal_anomalies", "period_spikes", "time_clustering"},
	},
}

func compileAll(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// ClassifyQuestion returns the first matching question type, defaulting to
// temporal analysis.
func ClassifyQuestion(question string) QuestionType {
	return classify(question).kind
}

func classify(question string) questionHandler {
	lower := strings.ToLower(question)
	for _, h := range questionHandlers {
		for _, p := range h.patterns {
			if p.MatchString(lower) {
				return h
			}
		}
	}
	return questionHandlers[len(questionHandlers)-1]
}

// InsightsService produces short footnotes that point out outliers related
// to an answered question.
type InsightsService interface {
	// Footnote returns a "Notable insights" footnote, or "" when nothing
	// useful could be produced. It never fails.
	Footnote(ctx context.Context, session *duckdb.Session, question, answer string) string
}

type insightsService struct {
	generator llm.Generator
	logger    *zap.Logger
}

var _ InsightsService = (*insightsService)(nil)

// NewInsightsService creates an insights generator backed by generator.
func NewInsightsService(generator llm.Generator, logger *zap.Logger) InsightsService {
	return &insightsService{
		generator: generator,
		logger:    logger.Named("insights"),
	}
}

func (s *insightsService) Footnote(ctx context.Context, session *duckdb.Session, question, answer string) string {
	ctx, span := tracer.Start(ctx, "analytics.insights")
	defer span.End()

	schema := session.SchemaInfo(ctx)
	if schema.IsEmpty() {
		return ""
	}

	handler := classify(question)
	s.logger.Debug("Classified question", zap.String("type", string(handler.kind)))

	queries := s.targetedQueries(ctx, question, answer, schema, handler)
	if len(queries) == 0 {
		return ""
	}
	span.AddEvent("queries", attributeInt("count", len(queries)))

	var useful []*duckdb.QueryResult
	for _, q := range queries {
		r := session.ExecuteQueryWithRetry(ctx, q)
		if r.Success && len(r.Rows) > 0 {
			useful = append(useful, r)
			continue
		}
		s.logger.Debug("Insight query produced no data",
			zap.String("sql", logging.SanitizeQuery(q)),
			zap.String("error", r.Error),
		)
	}
	if len(useful) == 0 {
		return ""
	}

	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompts.BuildFootnotePrompt(question, answer, string(handler.kind), useful),
		Temperature: insightTemperature,
		MaxTokens:   insightMaxTokens,
	})
	if err != nil {
		s.logger.Warn("Footnote generation failed", zap.String("error", logging.SanitizeError(err)))
		return ""
	}
	return strings.TrimSpace(result.Content)
}

// targetedQueries asks for outlier queries and keeps the read-only ones
// that do not nest window functions.
func (s *insightsService) targetedQueries(ctx context.Context, question, answer string, schema *duckdb.SchemaInfo, h questionHandler) []string {
	result, err := s.generator.Generate(ctx, llm.GenerateRequest{
		Prompt:      prompts.BuildInsightQueriesPrompt(question, answer, schema.FormatForPrompt(), string(h.kind), h.focusAreas),
		Temperature: insightTemperature,
		MaxTokens:   insightMaxTokens,
	})
	if err != nil {
		s.logger.Warn("Insight query generation failed", zap.String("error", logging.SanitizeError(err)))
		return nil
	}

	candidates, err := llm.ParseStringArray(result.Content)
	if err != nil {
		s.logger.Warn("Could not parse insight queries", zap.Error(err))
		return nil
	}

	var out []string
	for _, c := range candidates {
		v := sqlcheck.ValidateReadOnly(c)
		if v.Error != nil {
			s.logger.Debug("Skipping invalid insight query", zap.Error(v.Error))
			continue
		}
		upper := strings.ToUpper(v.NormalizedSQL)
		if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
			continue
		}
		if sqlcheck.HasNestedWindowFunction(v.NormalizedSQL) {
			s.logger.Debug("Skipping insight query with nested window functions",
				zap.String("sql", logging.SanitizeQuery(v.NormalizedSQL)))
			continue
		}
		out = append(out, v.NormalizedSQL)
		if len(out) == maxInsightQueries {
			break
		}
	}
	return out
}
