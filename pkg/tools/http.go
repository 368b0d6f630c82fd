package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
)

// DefaultTimeout bounds calls to external HTTP APIs.
const DefaultTimeout = 10 * time.Second

// maxErrorBody caps how much of a failed response is logged.
const maxErrorBody = 512

// apiClient is the JSON-over-HTTP plumbing shared by the weather and search clients.
type apiClient struct {
	name       string
	httpClient *http.Client
	logger     *zap.Logger
}

func newAPIClient(name string, timeout time.Duration, logger *zap.Logger) apiClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return apiClient{
		name:       name,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named(name),
	}
}

// do executes req and decodes a 200 JSON response into out.
func (c apiClient) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call %s: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", c.name, err)
	}

	if resp.StatusCode != http.StatusOK {
		snippet := logging.TruncateString(string(body), maxErrorBody)
		c.logger.Error("API returned error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", snippet))
		return fmt.Errorf("%s returned status %d", c.name, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", c.name, err)
	}
	return nil
}

func (c apiClient) get(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.do(req, out)
}
