package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

// AnalyzeResponse is the body of POST /api/analyze-duckdb. The detailed
// fields are only set with ?detailed=true.
type AnalyzeResponse struct {
	Response   string                `json:"response"`
	SQLQueries []string              `json:"sql_queries,omitempty"`
	Results    []*duckdb.QueryResult `json:"results,omitempty"`
	SessionID  string                `json:"session_id,omitempty"`
	Insights   string                `json:"insights,omitempty"`
	Cached     bool                  `json:"cached,omitempty"`
}

// AnalyzeHandler answers questions about uploaded databases.
type AnalyzeHandler struct {
	analytics services.AnalyticsService
	logger    *zap.Logger
}

// NewAnalyzeHandler creates an analyze handler.
func NewAnalyzeHandler(analytics services.AnalyticsService, logger *zap.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{analytics: analytics, logger: logger}
}

// RegisterRoutes registers the analyze handler's routes on the given mux.
func (h *AnalyzeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/analyze-duckdb", h.Analyze)
}

// Analyze handles POST /api/analyze-duckdb. It always answers 200; failures
// are explained in the response text.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	detailed, _ := strconv.ParseBool(r.URL.Query().Get("detailed"))

	var req services.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.write(w, AnalyzeResponse{Response: "I'm sorry, I couldn't read your request: " + err.Error()})
		return
	}

	if !detailed {
		answer, err := h.analytics.Analyze(r.Context(), req)
		if err != nil {
			h.logFailure(req, err)
			h.write(w, AnalyzeResponse{Response: services.UserMessage(err)})
			return
		}
		h.write(w, AnalyzeResponse{Response: answer.Answer})
		return
	}

	answer, err := h.analytics.AnalyzeDetailed(r.Context(), req)
	if err != nil {
		h.logFailure(req, err)
		h.write(w, AnalyzeResponse{Response: services.UserMessage(err), SessionID: req.SessionID})
		return
	}
	h.write(w, AnalyzeResponse{
		Response:   answer.Answer,
		SQLQueries: answer.SQLQueries,
		Results:    answer.Results,
		SessionID:  answer.SessionID,
		Insights:   answer.Insights,
		Cached:     answer.Cached,
	})
}

func (h *AnalyzeHandler) logFailure(req services.AnalyzeRequest, err error) {
	h.logger.Warn("Analysis failed",
		zap.String("db", logging.SanitizePath(req.DBPath)),
		zap.String("question", logging.TruncateString(req.Question, 80)),
		zap.String("error", logging.SanitizeError(err)))
}

func (h *AnalyzeHandler) write(w http.ResponseWriter, resp AnalyzeResponse) {
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to encode analyze response", zap.Error(err))
	}
}
