package pipeline

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HandoffError represents a rejected handoff request.
type HandoffError struct {
	StatusCode int
	Body       string
}

func (e *HandoffError) Error() string {
	return fmt.Sprintf("pipeline handoff failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx) and network errors.
// Client errors (4xx) are considered permanent.
func (e *HandoffError) IsRetryable() bool {
	return e.StatusCode >= 500
}

// HTTPClient posts handoff payloads to the analysis pipeline endpoint.
type HTTPClient struct {
	endpoint   string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(endpoint, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

func (c *HTTPClient) Invoke(ctx context.Context, payload InvokePayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal handoff payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("X-Cutroom-Request-Id", generateRequestID())

	if c.logger != nil {
		c.logger.Info("invoking analysis pipeline",
			"endpoint", c.endpoint,
			"job_id", payload.JobID,
			"project_id", payload.ProjectID,
			"script_bytes", len(payload.ScriptContent),
		)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if c.logger != nil {
			c.logger.Info("pipeline accepted job", "job_id", payload.JobID, "status", resp.StatusCode)
		}
		return nil
	}

	return &HandoffError{StatusCode: resp.StatusCode, Body: string(respBody)}
}

func generateRequestID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}
