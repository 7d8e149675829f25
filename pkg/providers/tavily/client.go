// Package tavily is a client for the Tavily web-search API, used by the
// sentiment agent for news sentiment and by report builders that need fresh
// web context.
package tavily

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/finsight-ai/finsight/pkg/providers"
)

const defaultBaseURL = "https://api.tavily.com"

// Client is a Tavily search client.
type Client struct {
	transport *providers.Transport
	apiKey    string
	baseURL   string
}

// NewClient creates a Tavily client.
func NewClient(transport *providers.Transport, apiKey string) *Client {
	return &Client{transport: transport, apiKey: apiKey, baseURL: defaultBaseURL}
}

// SetBaseURL overrides the API base, for tests.
func (c *Client) SetBaseURL(base string) { c.baseURL = base }

// Result is one web search hit.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Response is the full search response.
type Response struct {
	Answer  string   `json:"answer"`
	Results []Result `json:"results"`
}

// Search runs a web search. Depth is "basic" or "advanced"; maxResults <= 0
// leaves the server default in place.
func (c *Client) Search(ctx context.Context, query, depth string, maxResults int) (*Response, error) {
	if depth == "" {
		depth = "basic"
	}

	payload := map[string]any{
		"api_key":        c.apiKey,
		"query":          query,
		"search_depth":   depth,
		"include_answer": true,
	}
	if maxResults > 0 {
		payload["max_results"] = maxResults
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal search request: %w", err)
	}

	respBody, err := c.transport.Do(ctx, &providers.Request{
		Method:   http.MethodPost,
		URL:      c.baseURL + "/search",
		Body:     body,
		Endpoint: "/search",
		Headers:  map[string]string{"Content-Type": "application/json"},
	})
	if err != nil {
		return nil, err
	}

	var resp Response
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &resp, nil
}
