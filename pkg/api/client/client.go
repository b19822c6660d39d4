package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client provides typed access to the tuning API for operator tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithTimeout overrides the per-request timeout. Zero disables it, which deployments need
// because a reconcile can run for many minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API. Reason is set for failed reconciles.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e APIError) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = e.Reason + ": " + msg
	}
	if msg == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, msg)
}

func (c *Client) do(ctx context.Context, method, path string, body any, token string, v any) error {
	return c.send(ctx, method, path, body, token, v, 0)
}

// send performs the request. A response with status accept is decoded into v even when
// it is an error status.
func (c *Client) send(ctx context.Context, method, path string, body any, token string, v any, accept int) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest && resp.StatusCode != accept {
		return extractError(resp.StatusCode, resp.Body)
	}
	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(status int, body io.Reader) APIError {
	apiErr := APIError{Status: status}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return apiErr
	}
	var payload struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(payload.Error)
	apiErr.Reason = payload.Reason
	return apiErr
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is a chat turn with optional history and session.
type ChatRequest struct {
	Prompt    string    `json:"prompt"`
	History   []Message `json:"history,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Chat sends one turn and returns the assistant's answer.
func (c *Client) Chat(ctx context.Context, in ChatRequest) (string, error) {
	var resp struct {
		Response string `json:"response"`
	}
	if err := c.do(ctx, http.MethodPost, "/chat", in, "", &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

// StoredMessage is a persisted chat turn.
type StoredMessage struct {
	Timestamp int64  `json:"timestamp"`
	Role      string `json:"role"`
	Content   string `json:"content"`
}

// History returns the stored turns of a session, oldest first.
func (c *Client) History(ctx context.Context, sessionID string) ([]StoredMessage, error) {
	var resp struct {
		Messages []StoredMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID), nil, "", &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// ValidationReport summarizes a training data check.
type ValidationReport struct {
	Valid       bool     `json:"valid"`
	ValidLines  int      `json:"validLines"`
	Errors      []string `json:"errors"`
	TotalErrors int      `json:"totalErrors"`
	Message     string   `json:"message"`
}

// ValidateData checks a JSONL object. Invalid data is reported, not returned as an error.
func (c *Client) ValidateData(ctx context.Context, token, bucket, key string) (ValidationReport, error) {
	body := map[string]string{"bucket": bucket, "key": key}
	var report ValidationReport
	if err := c.send(ctx, http.MethodPost, "/data/validate", body, token, &report, http.StatusBadRequest); err != nil {
		return ValidationReport{}, err
	}
	return report, nil
}

// StartJobInput launches a fine-tuning job.
type StartJobInput struct {
	AccountID         string `json:"accountId,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	BaseModelID       string `json:"baseModelId,omitempty"`
	IncludeValidation bool   `json:"includeValidation,omitempty"`
}

// Job is the handle of a submitted fine-tuning job.
type Job struct {
	JobArn          string    `json:"jobArn"`
	JobName         string    `json:"jobName"`
	CustomModelName string    `json:"customModelName"`
	BaseModelID     string    `json:"baseModelId"`
	ModelArn        string    `json:"modelArn"`
	LaunchedAt      time.Time `json:"launchedAt"`
}

// StartJob submits a fine-tuning job.
func (c *Client) StartJob(ctx context.Context, token string, in StartJobInput) (Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs", in, token, &job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// JobStatus is the normalized job state.
type JobStatus struct {
	JobArn         string `json:"jobArn"`
	Status         string `json:"status"`
	CustomModelArn string `json:"customModelArn"`
	FailureMessage string `json:"failureMessage"`
}

// JobStatus reports the state of a job by ARN or name.
func (c *Client) JobStatus(ctx context.Context, token, jobArn string) (JobStatus, error) {
	var status JobStatus
	path := "/jobs/status?arn=" + url.QueryEscape(jobArn)
	if err := c.do(ctx, http.MethodGet, path, nil, token, &status); err != nil {
		return JobStatus{}, err
	}
	return status, nil
}

// PromptResult is one evaluated prompt.
type PromptResult struct {
	Prompt   string  `json:"prompt"`
	Response *string `json:"response"`
	Relevant bool    `json:"relevant"`
	Status   string  `json:"status"`
	Error    string  `json:"error"`
}

// Evaluation summarizes a prompt battery run.
type Evaluation struct {
	ModelID string         `json:"modelId"`
	Passed  bool           `json:"passed"`
	Score   string         `json:"score"`
	Results []PromptResult `json:"results"`
}

// Evaluate runs prompts (or the server defaults) against a model.
func (c *Client) Evaluate(ctx context.Context, token, modelID string, prompts []string) (Evaluation, error) {
	body := map[string]any{"modelId": modelID}
	if len(prompts) > 0 {
		body["testPrompts"] = prompts
	}
	var result Evaluation
	if err := c.do(ctx, http.MethodPost, "/evaluations", body, token, &result); err != nil {
		return Evaluation{}, err
	}
	return result, nil
}

// DeployResult describes a live deployment.
type DeployResult struct {
	RunID      string            `json:"run_id"`
	Deployment string            `json:"deployment"`
	ModelID    string            `json:"model_id"`
	Status     string            `json:"status"`
	Outputs    map[string]string `json:"outputs"`
	SelfHeals  int               `json:"self_heals"`
}

// Deploy reconciles the hosting deployment to modelID. mode is DEPLOY or UPDATE_MODEL.
func (c *Client) Deploy(ctx context.Context, token, modelID, mode string) (DeployResult, error) {
	body := map[string]string{"modelId": modelID, "mode": mode}
	var result DeployResult
	if err := c.do(ctx, http.MethodPost, "/deployments", body, token, &result); err != nil {
		return DeployResult{}, err
	}
	return result, nil
}

// Run is an audit record of a reconcile.
type Run struct {
	ID          string            `json:"id"`
	Deployment  string            `json:"deployment"`
	ModelID     string            `json:"model_id"`
	Mode        string            `json:"mode"`
	Status      string            `json:"status"`
	Reason      string            `json:"reason"`
	Error       string            `json:"error"`
	Outputs     map[string]string `json:"outputs"`
	SelfHeals   int               `json:"self_heals"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at"`
}

// ListRuns returns recent reconcile runs, newest first.
func (c *Client) ListRuns(ctx context.Context, token string, limit int) ([]Run, error) {
	path := "/deployments/runs"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp struct {
		Runs []Run `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, token, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}
