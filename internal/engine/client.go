// Package engine is the HTTP client for the external workflow engine that
// runs the supplemental analyses. The engine executes workflows asynchronously
// and exposes only two things this service needs: launching an execution and
// listing recent executions so delegated jobs can be reconciled.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
)

// ExecutionStatus is the engine-side lifecycle of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// Execution is one workflow run as reported by the engine. The engine calls
// inspections appraisals, hence the field naming on the wire.
type Execution struct {
	ExecutionID string          `json:"executionId"`
	AppraisalID uuid.UUID       `json:"appraisalId"`
	Workflow    string          `json:"workflow"`
	Status      ExecutionStatus `json:"status"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// workflowKeys maps delegated job types to engine workflow identifiers.
var workflowKeys = map[domain.JobType]string{
	domain.JobTypeOwnershipCostForecast: "ownership-cost-forecast",
	domain.JobTypeFairMarketValue:       "fair-market-value",
	domain.JobTypeExpertAdvice:          "expert-advice",
}

// WorkflowKey returns the engine workflow identifier for a delegated job
// type, or an error for job types the engine does not run.
func WorkflowKey(jobType domain.JobType) (string, error) {
	key, ok := workflowKeys[jobType]
	if !ok {
		return "", fmt.Errorf("job type %q has no engine workflow", jobType)
	}
	return key, nil
}

// APIError is a non-2xx response from the engine. Callers use the status code
// to tell a rejected request (4xx, pointless to retry) from an engine-side
// failure (5xx).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the workflow engine's REST API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates an engine client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// StartExecutionParams describes a workflow launch. The idempotency key makes
// duplicate launches for the same job collapse into one execution on the
// engine side.
type StartExecutionParams struct {
	Workflow       string          `json:"workflow"`
	AppraisalID    uuid.UUID       `json:"appraisalId"`
	IdempotencyKey string          `json:"idempotencyKey"`
	Input          json.RawMessage `json:"input,omitempty"`
}

// StartExecution launches a workflow and returns the accepted execution.
func (c *Client) StartExecution(ctx context.Context, params StartExecutionParams) (Execution, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return Execution{}, fmt.Errorf("marshal execution request: %w", err)
	}

	var execution Execution
	if err := c.do(ctx, http.MethodPost, "/v1/executions", bytes.NewReader(body), &execution); err != nil {
		return Execution{}, fmt.Errorf("start %s execution for appraisal %s: %w", params.Workflow, params.AppraisalID, err)
	}
	return execution, nil
}

// ListRecentExecutions returns every execution started at or after since.
func (c *Client) ListRecentExecutions(ctx context.Context, since time.Time) ([]Execution, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(time.RFC3339))

	var executions []Execution
	if err := c.do(ctx, http.MethodGet, "/v1/executions?"+query.Encode(), nil, &executions); err != nil {
		return nil, fmt.Errorf("list recent executions: %w", err)
	}
	return executions, nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &APIError{StatusCode: resp.StatusCode, Body: string(payload)}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode engine response: %w", err)
		}
	}
	return nil
}
