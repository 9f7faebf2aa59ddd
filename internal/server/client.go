package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RunStatus is the response of GET /api/v1/run.
type RunStatus struct {
	RunInfo
	Elapsed float64 `json:"elapsed"`
}

// Client queries a running status server.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: http.DefaultClient,
	}
}

// Run fetches the run status
func (c *Client) Run(ctx context.Context) (RunStatus, error) {
	var status RunStatus
	err := c.get(ctx, "/api/v1/run", &status)
	return status, err
}

// Generations fetches the generation summaries
func (c *Client) Generations(ctx context.Context) ([]GenerationResponse, error) {
	var gens []GenerationResponse
	err := c.get(ctx, "/api/v1/run/generations", &gens)
	return gens, err
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
