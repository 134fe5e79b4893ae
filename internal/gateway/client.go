// Package gateway talks to the agent gateway, the process that hosts agent
// sessions and exposes tool invocation over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"taskdeck/internal/errors"
)

// SpawnRequest describes the agent session to start.
type SpawnRequest struct {
	AgentID string
	Prompt  string
	Model   string
	TaskID  string

	// CleanupOnExit asks the gateway to tear the session down when the
	// agent finishes.
	CleanupOnExit bool
	// RunTimeout bounds how long the spawned session may run.
	RunTimeout time.Duration
}

// SpawnResult carries the identifiers of a started session.
type SpawnResult struct {
	SessionKey string
	RunID      string
}

// Client invokes gateway tools over HTTP.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New returns a Client for the gateway at baseURL. token may be empty when
// the gateway runs without auth.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Spawn starts a new agent session via the sessions_spawn tool and returns
// its identifiers.
func (c *Client) Spawn(ctx context.Context, req SpawnRequest) (*SpawnResult, error) {
	args := map[string]any{
		"agentId": req.AgentID,
		"task":    req.Prompt,
	}
	if req.Model != "" {
		args["model"] = req.Model
	}
	if req.TaskID != "" {
		args["metadata"] = map[string]any{"taskId": req.TaskID}
	}
	if req.CleanupOnExit {
		args["cleanup"] = "on-exit"
	}
	if req.RunTimeout > 0 {
		args["timeoutSeconds"] = int(req.RunTimeout.Seconds())
	}

	body, err := c.invoke(ctx, "sessions_spawn", args)
	if err != nil {
		return nil, err
	}

	return &SpawnResult{
		SessionKey: gjson.GetBytes(body, "result.details.childSessionKey").String(),
		RunID:      gjson.GetBytes(body, "result.details.runId").String(),
	}, nil
}

// invoke POSTs a tool call to /tools/invoke and returns the raw response
// body after checking status and the ok flag.
func (c *Client) invoke(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
	payload, err := json.Marshal(map[string]any{
		"tool": tool,
		"args": args,
	})
	if err != nil {
		return nil, fmt.Errorf("encode tool call: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tools/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.ErrGatewayTimeout(c.httpClient.Timeout.String())
		}
		return nil, errors.ErrGatewayUnavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, errors.ErrGatewayUnavailable(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.ErrGatewayUnavailable(fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status))
	}
	if !gjson.GetBytes(body, "ok").Bool() {
		reason := gjson.GetBytes(body, "error").String()
		if reason == "" {
			reason = "gateway reported failure"
		}
		return nil, errors.ErrGatewayUnavailable(fmt.Errorf("%s tool: %s", tool, reason))
	}
	return body, nil
}
