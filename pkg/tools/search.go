package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// SearchClient queries the Tavily search API.
type SearchClient struct {
	endpoint   string
	apiKey     string
	maxResults int
	api        apiClient
}

// NewSearchClient creates a Tavily client. maxResults <= 0 uses 5.
func NewSearchClient(endpoint, apiKey string, maxResults int, timeout time.Duration, logger *zap.Logger) *SearchClient {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &SearchClient{
		endpoint:   endpoint,
		apiKey:     apiKey,
		maxResults: maxResults,
		api:        newAPIClient("search", timeout, logger),
	}
}

type tavilyRequest struct {
	Query       string `json:"query"`
	MaxResults  int    `json:"max_results"`
	SearchDepth string `json:"search_depth"`
}

type tavilyResponse struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
}

// Search returns the top results for query.
func (c *SearchClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	body, err := json.Marshal(tavilyRequest{
		Query:       query,
		MaxResults:  c.maxResults,
		SearchDepth: "basic",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.api.logger.Debug("Searching the web", zap.Int("query_len", len(query)))

	var resp tavilyResponse
	if err := c.api.do(req, &resp); err != nil {
		return nil, err
	}
	if resp.Results == nil {
		resp.Results = []SearchResult{}
	}
	return resp.Results, nil
}
