// Package http provides an HTTP client for the facetz filter service.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	facetz "github.com/matt-riley/facetz/clients/go"
)

// Config holds configuration for the HTTP client.
type Config struct {
	// BaseURL is the base URL of the facetz server, e.g. "http://localhost:8080".
	BaseURL string
	// HTTPClient is optional; defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Client implements facetz.Searcher and facetz.DefinitionValidator over HTTP.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

var (
	_ facetz.Searcher            = (*Client)(nil)
	_ facetz.DefinitionValidator = (*Client)(nil)
)

// NewHTTPClient returns a new HTTP client for the facetz service.
func NewHTTPClient(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, httpClient: hc}
}

// APIError is returned when the server responds with an HTTP error status.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("facetz: HTTP %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("facetz: marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("facetz: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("facetz: http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("facetz: decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Error string `json:"error"`
	}
	message := strings.TrimSpace(string(raw))
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		message = body.Error
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}

func catalogPath(kind, action string, req facetz.SearchRequest) string {
	path := "/v1/catalogs/" + url.PathEscape(kind) + "/" + action
	if query := req.Encode(); query != "" {
		path += "?" + query
	}
	return path
}

func (c *Client) Search(ctx context.Context, req facetz.SearchRequest) (facetz.SearchResult, error) {
	if strings.TrimSpace(req.ContentKind) == "" {
		return facetz.SearchResult{}, fmt.Errorf("facetz: content kind is required")
	}
	var out facetz.SearchResult
	if err := c.do(ctx, http.MethodGet, catalogPath(req.ContentKind, "search", req), nil, &out); err != nil {
		return facetz.SearchResult{}, err
	}
	return out, nil
}

func (c *Client) Facets(ctx context.Context, req facetz.SearchRequest) ([]facetz.Facet, error) {
	if strings.TrimSpace(req.ContentKind) == "" {
		return nil, fmt.Errorf("facetz: content kind is required")
	}
	var out struct {
		Facets []facetz.Facet `json:"facets"`
	}
	if err := c.do(ctx, http.MethodGet, catalogPath(req.ContentKind, "facets", req), nil, &out); err != nil {
		return nil, err
	}
	return out.Facets, nil
}

func (c *Client) ValidateDefinition(ctx context.Context, def facetz.Definition) (facetz.DefinitionSummary, error) {
	var out facetz.DefinitionSummary
	if err := c.do(ctx, http.MethodPost, "/v1/definitions/validate", def, &out); err != nil {
		return facetz.DefinitionSummary{}, err
	}
	return out, nil
}
