package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/psantana5/kappa-rpc/pkg/api"
	"github.com/psantana5/kappa-rpc/pkg/auth"
	"github.com/psantana5/kappa-rpc/pkg/engine"
	"github.com/psantana5/kappa-rpc/pkg/examples"
	"github.com/psantana5/kappa-rpc/pkg/models"
)

// DefaultTimeout covers the server's engine timeout plus transfer time
const DefaultTimeout = engine.DefaultTimeout + time.Minute

// Client talks to a kapparpc server
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Option configures a Client
type Option func(*Client)

// WithAPIKey sends key on every request
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes a JSON-RPC method and decodes its result into out.
// JSON-RPC errors are returned as *api.Error.
func (c *Client) Call(ctx context.Context, method string, params, out interface{}) error {
	rawParams, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	id, _ := json.Marshal(c.nextID.Add(1))

	body, err := json.Marshal(api.Request{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  rawParams,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, "/rpc", bytes.NewReader(body))
	if err != nil {
		return err
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *api.Error      `json:"error"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}

// Simulate runs a simulation on the server. A failed simulation is a
// successful call whose result carries the diagnostic in Stderr.
func (c *Client) Simulate(ctx context.Context, req models.SimulationRequest) (models.SimulationResult, error) {
	params := map[string]interface{}{"model_source": req.ModelSource}
	if req.TimeLimit != 0 {
		params["time_limit"] = req.TimeLimit
	}
	if req.SamplePoints != 0 {
		params["sample_points"] = req.SamplePoints
	}
	if req.Seed != nil {
		params["seed"] = *req.Seed
	}

	// The method returns the result object encoded as a JSON string
	var encoded string
	if err := c.Call(ctx, api.MethodSimulate, params, &encoded); err != nil {
		return models.SimulationResult{}, err
	}

	var result models.SimulationResult
	if err := json.Unmarshal([]byte(encoded), &result); err != nil {
		return models.SimulationResult{}, fmt.Errorf("failed to decode simulation result: %w", err)
	}
	return result, nil
}

// ListExamples returns the server's example resources
func (c *Client) ListExamples(ctx context.Context) ([]examples.Resource, error) {
	var list []examples.Resource
	err := c.Call(ctx, api.MethodResourcesList, struct{}{}, &list)
	return list, err
}

// ReadExample returns one example resource with its text
func (c *Client) ReadExample(ctx context.Context, uri string) (examples.Resource, error) {
	var res examples.Resource
	err := c.Call(ctx, api.MethodResourcesRead, map[string]string{"uri": uri}, &res)
	return res, err
}

// Engines returns the server's backends and their availability
func (c *Client) Engines(ctx context.Context) ([]engine.EngineInfo, error) {
	var infos []engine.EngineInfo
	err := c.Call(ctx, api.MethodEnginesList, struct{}{}, &infos)
	return infos, err
}

// ListRuns returns up to limit recent runs, newest first
func (c *Client) ListRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	data, err := c.do(ctx, http.MethodGet, "/runs?limit="+url.QueryEscape(fmt.Sprint(limit)), nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Runs []models.RunRecord `json:"runs"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	return result.Runs, nil
}

// GetRun returns one run record
func (c *Client) GetRun(ctx context.Context, id string) (models.RunRecord, error) {
	data, err := c.do(ctx, http.MethodGet, "/runs/"+url.PathEscape(id), nil)
	if err != nil {
		return models.RunRecord{}, err
	}
	var run models.RunRecord
	if err := json.Unmarshal(data, &run); err != nil {
		return models.RunRecord{}, fmt.Errorf("failed to decode run: %w", err)
	}
	return run, nil
}

// StatusError is returned for non-2xx HTTP responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set(auth.HeaderName, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	return data, nil
}
